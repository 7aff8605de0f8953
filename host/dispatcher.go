// Package host consumes envelopes produced by a terminal surface, keeps a
// mirror of the surface state and optionally answers committed lines.
package host

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/schema"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResponder sets the commit responder.
func WithResponder(r Responder) Option {
	return func(d *Dispatcher) {
		d.responder = r
	}
}

// WithMirror shares a mirror with the dispatcher.
func WithMirror(m *Mirror) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.mirror = m
		}
	}
}

// WithObserver registers a callback invoked after each recognized event.
func WithObserver(fn func(schema.Event)) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// WithVerbose logs every event at info instead of debug.
func WithVerbose(verbose bool) Option {
	return func(d *Dispatcher) {
		d.verbose = verbose
	}
}

// Dispatcher decodes envelopes and routes them by tag. Calls must be
// serialized; one delivery goroutine per subscription owns a Dispatcher.
type Dispatcher struct {
	ctx       context.Context
	log       pslog.Logger
	mirror    *Mirror
	responder Responder
	observer  func(schema.Event)
	verbose   bool
}

// NewDispatcher constructs a dispatcher that logs through the context logger.
func NewDispatcher(ctx context.Context, opts ...Option) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &Dispatcher{
		ctx:    ctx,
		log:    pslog.Ctx(ctx),
		mirror: NewMirror(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mirror returns the state cache updated by this dispatcher.
func (d *Dispatcher) Mirror() *Mirror {
	return d.mirror
}

// DispatchRaw decodes one envelope and dispatches it. A malformed envelope
// is logged and dropped; the returned error is informational and the
// dispatcher stays usable.
func (d *Dispatcher) DispatchRaw(envelope string) error {
	ev, err := codec.DecodeString(envelope)
	if err != nil {
		d.log.Warn("host malformed envelope", "err", err, "len", len(envelope))
		d.mirror.update(func(s *State) { s.Malformed++ })
		return err
	}
	d.Dispatch(ev)
	return nil
}

// Dispatch routes one decoded event.
func (d *Dispatcher) Dispatch(ev schema.Event) {
	var commit string
	committed := false
	switch e := ev.(type) {
	case schema.InfoEvent:
		d.logEvent("host surface info", "surface_description", e.SurfaceDescription, "surface_version", e.SurfaceVersion)
		d.mirror.update(func(s *State) { s.Surface = e })
	case schema.DataEvent:
		d.logEvent("host data", "data", e.Data, "current_input", e.CurrentInput)
		d.mirror.update(func(s *State) { s.CurrentInput = e.CurrentInput })
	case schema.EnterKeyEvent:
		d.logEvent("host enter key", "current_input", e.CurrentInput)
		d.mirror.update(func(s *State) {
			s.LastCommit = e.CurrentInput
			s.Commits++
		})
		commit, committed = e.CurrentInput, true
	case schema.KeyEvent:
		d.logEvent("host key", "key", e.Key, "dom_event", string(e.DOMEvent))
		d.mirror.update(func(s *State) { s.LastKey = e.Key })
	case schema.LineFeedEvent:
		d.logEvent("host line feed")
		d.mirror.update(func(s *State) { s.LineFeeds++ })
	case schema.ScrollEvent:
		d.logEvent("host scroll", "position", e.Position)
		d.mirror.update(func(s *State) { s.ScrollPosition = e.Position })
	case schema.ResizeEvent:
		d.logEvent("host resize", "cols", e.Cols, "rows", e.Rows)
		d.mirror.update(func(s *State) {
			s.Cols = e.Cols
			s.Rows = e.Rows
		})
	case schema.SelectionChangeEvent:
		d.logEvent("host selection change", "selection", e.Selection)
		d.mirror.update(func(s *State) { s.Selection = e.Selection })
	case schema.TitleChangeEvent:
		d.logEvent("host title change", "title", e.Title)
		d.mirror.update(func(s *State) { s.Title = e.Title })
	case schema.BellEvent:
		d.logEvent("host bell")
		d.mirror.update(func(s *State) { s.Bells++ })
	case schema.UnknownEvent:
		d.log.Info("host unrecognized event", "type", e.Type)
		d.mirror.update(func(s *State) { s.Unrecognized++ })
		return
	case nil:
		d.log.Warn("host nil event")
		return
	default:
		d.log.Info("host unrecognized event", "type", ev.Tag())
		d.mirror.update(func(s *State) { s.Unrecognized++ })
		return
	}
	d.mirror.update(func(s *State) { s.Envelopes++ })
	if d.observer != nil {
		d.observer(ev)
	}
	if committed && d.responder != nil {
		d.responder.OnCommit(d.ctx, commit)
	}
}

func (d *Dispatcher) logEvent(msg string, keyvals ...any) {
	if d.verbose {
		d.log.Info(msg, keyvals...)
		return
	}
	d.log.Debug(msg, keyvals...)
}
