package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/host"
	"pkt.systems/termbridge/internal/eventbus"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/internal/version"
	"pkt.systems/termbridge/schema"
)

// Display renders surface feedback on the attached terminal. Echo returns
// follow-up notifications produced by rendering (line feeds, scrolls, bells);
// the session applies them before processing the next unit.
type Display interface {
	Echo(tr Transition) []schema.Event
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(tr Transition) []schema.Event

// Echo calls f(tr).
func (f DisplayFunc) Echo(tr Transition) []schema.Event {
	return f(tr)
}

// SessionOptions describes a terminal attach.
type SessionOptions struct {
	// ID is generated when empty.
	ID schema.SessionID
	// Transport names the terminal leg, e.g. "ssh" or "websocket".
	Transport string
	// Display receives echo feedback; nil disables echo.
	Display Display
	// Info overrides the INFO envelope sent at start.
	Info *schema.InfoEvent
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID          schema.SessionID `json:"id"`
	Transport   string           `json:"transport"`
	CreatedAt   time.Time        `json:"createdAt"`
	Subscribers int              `json:"subscribers"`
	Emitted     uint64           `json:"emitted"`
	State       host.State       `json:"state"`
}

// Session pairs one surface with one host dispatcher. The surface is only
// touched by the session loop goroutine; notifications and injections are
// handed to it over bounded channels.
type Session struct {
	id        schema.SessionID
	transport string
	created   time.Time
	cfg       schema.BridgeConfig
	bus       *eventbus.Bus
	surface   *Surface
	display   Display
	info      schema.InfoEvent
	mirror    *host.Mirror
	log       pslog.Logger

	notes   chan schema.Event
	injects chan string
	done    chan struct{}
	emitted atomic.Uint64

	// subMu orders Subscribe against Close so no subscription outlives
	// the session.
	subMu     sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	delivery  sync.WaitGroup
	loopDone  chan struct{}
	onClose   func(*Session)
}

// NewSession constructs a session on the bus. Call Start to run it.
func NewSession(ctx context.Context, cfg schema.BridgeConfig, bus *eventbus.Bus, opts SessionOptions) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized, err := schema.NormalizeBridgeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = eventbus.New(pslog.Ctx(ctx), normalized.QueueDepth, normalized.Overflow)
	}
	id := opts.ID
	if id == "" {
		id = schema.NewSessionID()
	} else if err := schema.ValidateSessionID(id); err != nil {
		return nil, err
	}
	log := logx.WithTransport(logx.WithSession(ctx, id), opts.Transport)
	info := schema.InfoEvent{
		SurfaceDescription: version.Describe(normalized.SurfaceDescription, opts.Transport),
		SurfaceVersion:     version.Current(),
	}
	if opts.Info != nil {
		info = *opts.Info
	}
	s := &Session{
		id:        id,
		transport: opts.Transport,
		created:   time.Now().UTC(),
		cfg:       normalized,
		bus:       bus,
		display:   opts.Display,
		info:      info,
		mirror:    host.NewMirror(),
		log:       log,
		notes:     make(chan schema.Event, normalized.InjectDepth),
		injects:   make(chan string, normalized.InjectDepth),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	s.surface = NewSurface(EnvelopeSinkFunc(s.publish), log)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Transport returns the terminal transport name.
func (s *Session) Transport() string {
	return s.transport
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// State returns the host mirror snapshot.
func (s *Session) State() host.State {
	return s.mirror.Snapshot()
}

// Info summarizes the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Transport:   s.transport,
		CreatedAt:   s.created,
		Subscribers: s.bus.Subscribers(s.id),
		Emitted:     s.emitted.Load(),
		State:       s.mirror.Snapshot(),
	}
}

// Subscribe attaches an envelope consumer to the session.
func (s *Session) Subscribe() (*eventbus.Subscription, func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed.Load() {
		return nil, func() {}, schema.ErrSessionClosed
	}
	sub, cancel := s.bus.Subscribe(s.id)
	return sub, cancel, nil
}

// LoopDone is closed once the session loop has returned. The loop may
// outlive Close while a display write is still blocked.
func (s *Session) LoopDone() <-chan struct{} {
	return s.loopDone
}

// Start launches the host dispatcher and the session loop, then announces
// the surface with INFO. The session is torn down when ctx ends.
func (s *Session) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.startOnce.Do(func() {
		ctx = logx.ContextWithSessionLogger(ctx, s.log, s.id)
		sub, cancel := s.bus.Subscribe(s.id)
		var responder host.Responder
		if s.cfg.EnterReply != "" {
			responder = host.ReplyResponder{Reply: s.cfg.EnterReply, Injector: s}
		}
		dispatcher := host.NewDispatcher(ctx,
			host.WithMirror(s.mirror),
			host.WithResponder(responder),
			host.WithVerbose(s.cfg.LogEnvelopes),
		)
		s.delivery.Add(1)
		go s.deliver(sub, cancel, dispatcher)
		go s.loop()
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			}
		}()
		s.log.Info("session open", "surface", s.info.SurfaceDescription)
	})
}

// Notify hands a raw terminal notification to the session loop. It blocks
// while the notification queue is full and is a no-op after teardown.
func (s *Session) Notify(ev schema.Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.notes <- ev:
	case <-s.done:
	}
}

// Inject pushes text into the surface as if it was typed. It never blocks;
// a full injection queue drops the request.
func (s *Session) Inject(text string) {
	if s.closed.Load() || text == "" {
		return
	}
	select {
	case s.injects <- text:
	case <-s.done:
	default:
		s.log.Warn("session inject dropped", "reason", "queue full", "len", len(text))
	}
}

// Close tears the session down. Late notifications and injections are
// discarded; subscriptions are closed. Close waits for the host delivery
// goroutine but not for the session loop, which may be blocked writing to
// a stalled terminal; it exits on its own once that write returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.subMu.Lock()
		s.closed.Store(true)
		s.subMu.Unlock()
		close(s.done)
		s.delivery.Wait()
		s.bus.CloseSession(s.id)
		s.log.Info("session closed", "emitted", s.emitted.Load())
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *Session) publish(envelope string) {
	if s.closed.Load() {
		return
	}
	s.emitted.Add(1)
	s.bus.Publish(s.id, envelope)
}

func (s *Session) loop() {
	defer close(s.loopDone)
	s.surface.Start(s.info)
	for {
		// Teardown wins over pending work.
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.done:
			return
		case ev := <-s.notes:
			s.apply(ev)
		case text := <-s.injects:
			s.inject(text)
		}
	}
}

func (s *Session) apply(ev schema.Event) {
	tr, err := s.surface.Notify(ev)
	if err != nil {
		s.log.Warn("session notification rejected", "err", err)
		return
	}
	if _, ok := ev.(schema.DataEvent); ok {
		s.echo(tr)
	}
}

func (s *Session) inject(text string) {
	for _, unit := range SplitUnits(text) {
		if s.closed.Load() {
			return
		}
		s.echo(s.surface.Input(unit))
	}
}

func (s *Session) echo(tr Transition) {
	if s.display == nil || s.closed.Load() {
		return
	}
	for _, follow := range s.display.Echo(tr) {
		if _, err := s.surface.Notify(follow); err != nil {
			s.log.Warn("session display notification rejected", "err", err)
		}
	}
}

func (s *Session) deliver(sub *eventbus.Subscription, cancel func(), dispatcher *host.Dispatcher) {
	defer s.delivery.Done()
	defer cancel()
	for {
		select {
		case <-s.done:
			return
		case delivery, ok := <-sub.C():
			if !ok {
				return
			}
			_ = dispatcher.DispatchRaw(delivery.Envelope)
		}
	}
}
