package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/internal/eventbus"
	"pkt.systems/termbridge/schema"
)

// Registry tracks live sessions. All sessions share one event bus.
type Registry struct {
	cfg schema.BridgeConfig
	bus *eventbus.Bus
	log pslog.Logger

	mu       sync.RWMutex
	sessions map[schema.SessionID]*Session
}

// NewRegistry validates cfg and constructs an empty registry.
func NewRegistry(cfg schema.BridgeConfig, logger pslog.Logger) (*Registry, error) {
	normalized, err := schema.NormalizeBridgeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{
		cfg:      normalized,
		bus:      eventbus.New(logger, normalized.QueueDepth, normalized.Overflow),
		log:      logger,
		sessions: make(map[schema.SessionID]*Session),
	}, nil
}

// Config returns the normalized bridge config.
func (r *Registry) Config() schema.BridgeConfig {
	return r.cfg
}

// Open creates, registers and starts a session. The session is removed
// from the registry when it closes.
func (r *Registry) Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	sess, err := NewSession(ctx, r.cfg, r.bus, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if _, exists := r.sessions[sess.ID()]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s already exists", schema.ErrInvalidRequest, sess.ID())
	}
	r.sessions[sess.ID()] = sess
	r.mu.Unlock()
	sess.onClose = r.remove
	sess.Start(ctx)
	return sess, nil
}

// Get returns a live session.
func (r *Registry) Get(id schema.SessionID) (*Session, error) {
	if err := schema.ValidateSessionID(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Inject pushes text into the session. Injection is fire-and-forget; only
// an unknown session is reported.
func (r *Registry) Inject(id schema.SessionID, text string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	sess.Inject(text)
	return nil
}

// List returns session summaries ordered by creation time.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()
	for _, sess := range sessions {
		sess.Close()
	}
	if len(sessions) > 0 {
		r.log.Info("registry closed sessions", "count", len(sessions))
	}
}

func (r *Registry) remove(sess *Session) {
	r.mu.Lock()
	delete(r.sessions, sess.ID())
	r.mu.Unlock()
}
