package schema

import (
	"strings"

	"github.com/google/uuid"
)

// ParseOverflowPolicy validates and normalizes an overflow policy name.
func ParseOverflowPolicy(value string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(OverflowDropOldest), "oldest":
		return OverflowDropOldest, nil
	case string(OverflowDropNewest), "newest":
		return OverflowDropNewest, nil
	default:
		return "", ErrInvalidOverflow
	}
}

// ValidateSessionID ensures a session id is a canonical UUID string.
func ValidateSessionID(id SessionID) error {
	raw := string(id)
	if raw == "" || strings.TrimSpace(raw) != raw {
		return ErrInvalidSessionID
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ErrInvalidSessionID
	}
	if parsed.String() != raw {
		return ErrInvalidSessionID
	}
	return nil
}
