package schema

import "errors"

var (
	// ErrProtocol indicates an undecodable envelope.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidSessionID indicates a malformed session identifier.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session was torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidOverflow indicates an unsupported queue overflow policy.
	ErrInvalidOverflow = errors.New("invalid overflow policy")
)

// ProtocolError describes why an envelope could not be decoded.
type ProtocolError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ErrProtocol.Error()
	}
	msg := ErrProtocol.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
