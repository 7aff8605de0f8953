package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/schema"
)

// Delivery is one encoded envelope with its per-session sequence number.
type Delivery struct {
	Seq      uint64
	Envelope string
}

// Subscription is a bounded FIFO queue of deliveries for one consumer.
type Subscription struct {
	ch      chan Delivery
	dropped atomic.Uint64
}

// C returns the delivery channel. It is closed on unsubscribe or session close.
func (s *Subscription) C() <-chan Delivery {
	if s == nil {
		return nil
	}
	return s.ch
}

// Dropped returns how many deliveries were discarded by the overflow policy.
func (s *Subscription) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Bus fans envelopes out to per-session subscribers without ever blocking
// the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[schema.SessionID]map[*Subscription]struct{}
	seqs   map[schema.SessionID]uint64
	log    pslog.Logger
	depth  int
	policy schema.OverflowPolicy
}

// New constructs a Bus.
func New(logger pslog.Logger, depth int, policy schema.OverflowPolicy) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if depth <= 0 {
		depth = schema.DefaultQueueDepth
	}
	if policy == "" {
		policy = schema.OverflowDropOldest
	}
	return &Bus{
		subs:   make(map[schema.SessionID]map[*Subscription]struct{}),
		seqs:   make(map[schema.SessionID]uint64),
		log:    logger,
		depth:  depth,
		policy: policy,
	}
}

// Subscribe registers a subscriber for the session and returns it with a cancel func.
func (b *Bus) Subscribe(sessionID schema.SessionID) (*Subscription, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &Subscription{ch: make(chan Delivery, b.depth)}
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[*Subscription]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[sub] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	return sub, func() {
		b.mu.Lock()
		removed := false
		if subs := b.subs[sessionID]; subs != nil {
			if _, ok := subs[sub]; ok {
				delete(subs, sub)
				close(sub.ch)
				removed = true
			}
			if len(subs) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
		if removed {
			b.log.With("session", sessionID).Debug("eventbus unsubscribe", "dropped", sub.Dropped())
		}
	}
}

// Publish queues the envelope for every subscriber of the session.
func (b *Bus) Publish(sessionID schema.SessionID, envelope string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs[sessionID]
	if len(subs) == 0 {
		b.mu.Unlock()
		return
	}
	b.seqs[sessionID]++
	delivery := Delivery{Seq: b.seqs[sessionID], Envelope: envelope}
	dropped := 0
	for sub := range subs {
		dropped += b.offer(sub, delivery)
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("session", sessionID).Warn("eventbus dropped", "count", dropped, "policy", b.policy, "seq", delivery.Seq)
	}
}

// CloseSession closes every subscription of the session. Later publishes
// for the session are discarded.
func (b *Bus) CloseSession(sessionID schema.SessionID) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs[sessionID]
	for sub := range subs {
		close(sub.ch)
	}
	delete(b.subs, sessionID)
	delete(b.seqs, sessionID)
	b.mu.Unlock()
	if len(subs) > 0 {
		b.log.With("session", sessionID).Debug("eventbus session closed", "subs", len(subs))
	}
}

// Subscribers returns the subscriber count for the session.
func (b *Bus) Subscribers(sessionID schema.SessionID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// offer enqueues without blocking and applies the overflow policy. Callers hold b.mu.
func (b *Bus) offer(sub *Subscription, delivery Delivery) int {
	select {
	case sub.ch <- delivery:
		return 0
	default:
	}
	if b.policy == schema.OverflowDropNewest {
		sub.dropped.Add(1)
		return 1
	}
	dropped := 0
	select {
	case <-sub.ch:
		dropped++
	default:
	}
	select {
	case sub.ch <- delivery:
	default:
		dropped++
	}
	sub.dropped.Add(uint64(dropped))
	return dropped
}
