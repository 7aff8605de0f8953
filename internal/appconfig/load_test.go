package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/termbridge/schema"
)

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
bridge:
  queue_depth: 16
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
bridge:
  queue_depth: 16
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version required error, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.QueueDepth != schema.DefaultQueueDepth || cfg.Bridge.Overflow != string(schema.OverflowDropOldest) {
		t.Fatalf("expected defaults, got %+v", cfg.Bridge)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("TB_SOCK_DIR", "/tmp/tb")
	path := writeConfig(t, `
config_version: 1
bridge:
  queue_depth: 8
  overflow: drop-newest
  enter_reply: test
grpc:
  socket_path: $TB_SOCK_DIR/bridge.sock
logging:
  log_envelopes: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	bridge := cfg.BridgeSettings()
	if bridge.QueueDepth != 8 || bridge.Overflow != schema.OverflowDropNewest || bridge.EnterReply != "test" || !bridge.LogEnvelopes {
		t.Fatalf("unexpected bridge settings %+v", bridge)
	}
	if bridge.InjectDepth != schema.DefaultInjectDepth {
		t.Fatalf("expected default inject depth, got %d", bridge.InjectDepth)
	}
	if cfg.GRPC.SocketPath != "/tmp/tb/bridge.sock" {
		t.Fatalf("expected expanded socket path, got %q", cfg.GRPC.SocketPath)
	}
}

func TestLoadRejectsInvalidBridge(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "overflow",
			content: `
config_version: 1
bridge:
  overflow: sometimes
`,
			want: "overflow",
		},
		{
			name: "enter reply commit",
			content: `
config_version: 1
bridge:
  enter_reply: "ok\r"
`,
			want: "enter reply",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadRejectsInvalidHTTPBasePath(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
http:
  base_path: https://example.com/bridge
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.base_path") {
		t.Fatalf("expected base_path error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	want, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", cfg, want)
	}
}
