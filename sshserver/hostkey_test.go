package sshserver

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
)

type logCapture struct {
	mu    sync.Mutex
	lines []map[string]any
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimSpace(p), []byte("\n")) {
		entry := map[string]any{}
		if err := json.Unmarshal(line, &entry); err == nil {
			c.lines = append(c.lines, entry)
		}
	}
	return len(p), nil
}

func (c *logCapture) find(message string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.lines {
		msg, _ := entry["message"].(string)
		if msg == "" {
			msg, _ = entry["msg"].(string)
		}
		if msg == message {
			return entry, true
		}
	}
	return nil, false
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestEnsureHostKeyGeneratesThenLoads(t *testing.T) {
	capture := &logCapture{}
	log := newCaptureLogger(capture)
	path := filepath.Join(t.TempDir(), "keys", "host_ed25519")

	first, err := EnsureHostKey(log, path)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat host key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 host key, got %#o", perm)
	}
	second, err := EnsureHostKey(log, path)
	if err != nil {
		t.Fatalf("load host key: %v", err)
	}
	want := ssh.FingerprintSHA256(first.PublicKey())
	if got := ssh.FingerprintSHA256(second.PublicKey()); got != want {
		t.Fatalf("expected reloaded fingerprint %s, got %s", want, got)
	}

	generated, ok := capture.find("ssh host key generated")
	if !ok {
		t.Fatalf("expected generation to be logged")
	}
	if generated["fingerprint"] != want || generated["path"] != path {
		t.Fatalf("unexpected generation fields %+v", generated)
	}
	if _, ok := capture.find("ssh host key loaded"); !ok {
		t.Fatalf("expected load to be logged")
	}
	if _, ok := capture.find("ssh host key permissions too open"); ok {
		t.Fatalf("did not expect a permission warning for 0600")
	}
}

func TestEnsureHostKeyWarnsOnOpenPermissions(t *testing.T) {
	capture := &logCapture{}
	log := newCaptureLogger(capture)
	path := filepath.Join(t.TempDir(), "host_ed25519")
	if _, err := EnsureHostKey(nil, path); err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := EnsureHostKey(log, path); err != nil {
		t.Fatalf("load host key: %v", err)
	}
	warning, ok := capture.find("ssh host key permissions too open")
	if !ok {
		t.Fatalf("expected permission warning")
	}
	if warning["mode"] != "0644" {
		t.Fatalf("expected mode 0644, got %v", warning["mode"])
	}
}

func TestEnsureHostKeyErrors(t *testing.T) {
	if _, err := EnsureHostKey(nil, "  "); err == nil {
		t.Fatalf("expected empty path to fail")
	}
	path := filepath.Join(t.TempDir(), "host_ed25519")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := EnsureHostKey(nil, path); err == nil {
		t.Fatalf("expected corrupt key to fail")
	}
}
