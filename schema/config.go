package schema

import (
	"errors"
	"strings"
)

// BridgeConfig defines defaults and limits for bridge sessions.
type BridgeConfig struct {
	// QueueDepth bounds each outbound subscriber queue.
	QueueDepth int
	// InjectDepth bounds the pending injection requests per session.
	InjectDepth int
	// Overflow selects the drop policy for full queues.
	Overflow OverflowPolicy
	// EnterReply is injected after every commit when non-empty.
	EnterReply string
	// SurfaceDescription is reported in the INFO envelope.
	SurfaceDescription string
	// LogEnvelopes logs every dispatched envelope at debug level.
	LogEnvelopes bool
}

const (
	// DefaultQueueDepth is the default outbound queue bound.
	DefaultQueueDepth = 256
	// DefaultInjectDepth is the default injection queue bound.
	DefaultInjectDepth = 64
	// DefaultSurfaceDescription is reported when none is configured.
	DefaultSurfaceDescription = "termbridge"
)

// NormalizeBridgeConfig applies defaults and validates the config.
func NormalizeBridgeConfig(cfg BridgeConfig) (BridgeConfig, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.InjectDepth <= 0 {
		cfg.InjectDepth = DefaultInjectDepth
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowDropOldest
	}
	policy, err := ParseOverflowPolicy(string(cfg.Overflow))
	if err != nil {
		return BridgeConfig{}, err
	}
	cfg.Overflow = policy
	if strings.TrimSpace(cfg.SurfaceDescription) == "" {
		cfg.SurfaceDescription = DefaultSurfaceDescription
	}
	if strings.Contains(cfg.EnterReply, CommitUnit) {
		return BridgeConfig{}, errors.New("enter reply must not contain a carriage return")
	}
	return cfg, nil
}
