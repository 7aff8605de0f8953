package appconfig

import (
	"testing"

	"pkt.systems/termbridge/schema"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if _, err := schema.NormalizeBridgeConfig(cfg.BridgeSettings()); err != nil {
		t.Fatalf("default bridge config invalid: %v", err)
	}
	if cfg.Bridge.EnterReply != "" {
		t.Fatalf("expected enter reply to default empty")
	}
	if cfg.Logging.LogEnvelopes {
		t.Fatalf("expected envelope logging to default false")
	}
}
