package host

import (
	"sync"

	"pkt.systems/termbridge/schema"
)

// State is the host's cache of the latest values reported by a surface.
// Every field is overwritten by newer events; nothing is authoritative.
type State struct {
	Surface        schema.InfoEvent `json:"surface"`
	Cols           int              `json:"cols"`
	Rows           int              `json:"rows"`
	Title          string           `json:"title"`
	ScrollPosition int              `json:"scrollPosition"`
	Selection      string           `json:"selection"`
	CurrentInput   string           `json:"currentInput"`
	LastCommit     string           `json:"lastCommit"`
	LastKey        string           `json:"lastKey"`
	Commits        uint64           `json:"commits"`
	Bells          uint64           `json:"bells"`
	LineFeeds      uint64           `json:"lineFeeds"`
	Envelopes      uint64           `json:"envelopes"`
	Unrecognized   uint64           `json:"unrecognized"`
	Malformed      uint64           `json:"malformed"`
}

// Mirror guards a State for concurrent readers. The dispatcher is its only writer.
type Mirror struct {
	mu    sync.RWMutex
	state State
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Snapshot returns a copy of the current state.
func (m *Mirror) Snapshot() State {
	if m == nil {
		return State{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Mirror) update(fn func(*State)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(&m.state)
	m.mu.Unlock()
}
