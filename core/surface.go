package core

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/schema"
)

// Surface is the terminal side of a bridge session. It owns the line buffer
// and turns raw terminal notifications into envelopes, one notification at
// a time. A Surface is not safe for concurrent use; its owner serializes calls.
type Surface struct {
	buffer  LineBuffer
	sink    EnvelopeSink
	log     pslog.Logger
	emitted uint64
}

// NewSurface constructs a surface that publishes envelopes to sink.
func NewSurface(sink EnvelopeSink, logger pslog.Logger) *Surface {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Surface{sink: sink, log: logger}
}

// Start announces the surface with an INFO envelope.
func (s *Surface) Start(info schema.InfoEvent) {
	s.emit(info)
}

// Input applies one raw data unit: DATA with the post-transition snapshot,
// then ENTERKEY for a commit.
func (s *Surface) Input(unit string) Transition {
	tr := s.buffer.Apply(unit)
	s.emit(schema.DataEvent{Data: unit, CurrentInput: tr.After})
	if tr.Kind == UnitCommit {
		s.log.Debug("surface commit", "len", len(tr.Committed))
		s.emit(schema.EnterKeyEvent{CurrentInput: tr.Committed})
	}
	return tr
}

// Compose applies composed text (IME commits) delivered outside the
// per-character stream. It shares the transition function with Input.
func (s *Surface) Compose(text string) Transition {
	return s.Input(text)
}

// Key reports a key press. An invalid domEvent is dropped from the envelope.
func (s *Surface) Key(key string, domEvent json.RawMessage) {
	if len(domEvent) > 0 && !json.Valid(domEvent) {
		s.log.Warn("surface key dom event invalid", "key", key)
		domEvent = nil
	}
	s.emit(schema.KeyEvent{Key: key, DOMEvent: domEvent})
}

// LineFeed reports a line feed.
func (s *Surface) LineFeed() {
	s.emit(schema.LineFeedEvent{})
}

// Scroll reports the viewport scroll position.
func (s *Surface) Scroll(position int) {
	s.emit(schema.ScrollEvent{Position: position})
}

// Resize reports new terminal dimensions.
func (s *Surface) Resize(cols, rows int) {
	s.emit(schema.ResizeEvent{Cols: cols, Rows: rows})
}

// SelectionChange reports the selected text.
func (s *Surface) SelectionChange(selection string) {
	s.emit(schema.SelectionChangeEvent{Selection: selection})
}

// TitleChange reports a new terminal title.
func (s *Surface) TitleChange(title string) {
	s.emit(schema.TitleChangeEvent{Title: title})
}

// Bell reports a bell.
func (s *Surface) Bell() {
	s.emit(schema.BellEvent{})
}

// Notify applies a raw notification received from a remote terminal.
// DATA is re-derived from the unit alone; a unit of more than one rune is
// composed text (IME commit or paste) and goes through Compose. ENTERKEY is
// produced by the surface itself and is rejected as input.
func (s *Surface) Notify(ev schema.Event) (Transition, error) {
	switch e := ev.(type) {
	case schema.DataEvent:
		if utf8.RuneCountInString(e.Data) > 1 {
			return s.Compose(e.Data), nil
		}
		return s.Input(e.Data), nil
	case schema.InfoEvent:
		s.Start(e)
	case schema.KeyEvent:
		s.Key(e.Key, e.DOMEvent)
	case schema.LineFeedEvent:
		s.LineFeed()
	case schema.ScrollEvent:
		s.Scroll(e.Position)
	case schema.ResizeEvent:
		s.Resize(e.Cols, e.Rows)
	case schema.SelectionChangeEvent:
		s.SelectionChange(e.Selection)
	case schema.TitleChangeEvent:
		s.TitleChange(e.Title)
	case schema.BellEvent:
		s.Bell()
	case schema.EnterKeyEvent:
		return Transition{}, fmt.Errorf("%w: %s is derived by the surface", schema.ErrInvalidRequest, e.Tag())
	case nil:
		return Transition{}, fmt.Errorf("%w: nil notification", schema.ErrInvalidRequest)
	default:
		return Transition{}, fmt.Errorf("%w: unsupported notification %q", schema.ErrInvalidRequest, ev.Tag())
	}
	return Transition{}, nil
}

// CurrentInput returns the line buffer content.
func (s *Surface) CurrentInput() string {
	return s.buffer.String()
}

// Emitted returns the number of envelopes published.
func (s *Surface) Emitted() uint64 {
	return s.emitted
}

func (s *Surface) emit(ev schema.Event) {
	envelope, err := codec.EncodeString(ev)
	if err != nil {
		s.log.Warn("surface encode failed", "type", ev.Tag(), "err", err)
		return
	}
	s.emitted++
	if s.sink != nil {
		s.sink.Publish(envelope)
	}
}
