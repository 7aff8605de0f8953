package integration_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"

	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/httpapi"
	"pkt.systems/termbridge/internal/grpcapi"
	"pkt.systems/termbridge/schema"
	"pkt.systems/termbridge/sshserver"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stack struct {
	registry *core.Registry
	sshAddr  string
	http     *httptest.Server
	socket   string
}

func startStack(t *testing.T, bridge schema.BridgeConfig) *stack {
	t.Helper()
	registry, err := core.NewRegistry(bridge, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sshSrv := &sshserver.Server{
		HostKeyPath: filepath.Join(t.TempDir(), "host_key"),
		Title:       "integration",
		Listener:    ln,
		Registry:    registry,
	}
	sshDone := make(chan error, 1)
	go func() { sshDone <- sshSrv.ListenAndServe(ctx) }()

	dir, err := os.MkdirTemp("", "tbint")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	socket := filepath.Join(dir, "bridge.sock")
	grpcSrv := &grpcapi.Server{SocketPath: socket, Registry: registry}
	grpcDone := make(chan error, 1)
	go func() { grpcDone <- grpcSrv.ListenAndServe(ctx) }()

	ts := httptest.NewServer(httpapi.NewServer(httpapi.Config{}, registry).Handler())
	t.Cleanup(func() {
		registry.CloseAll()
		ts.Close()
		cancel()
		<-sshDone
		<-grpcDone
		_ = os.RemoveAll(dir)
	})
	waitFor(t, "grpc socket", func() bool {
		_, err := os.Stat(socket)
		return err == nil
	})
	return &stack{registry: registry, sshAddr: ln.Addr().String(), http: ts, socket: socket}
}

type terminal struct {
	session *ssh.Session
	stdin   io.Writer
	output  *syncBuffer
}

func openTerminal(t *testing.T, addr string) *terminal {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "tester",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	if err := sess.RequestPty("xterm-256color", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("request pty: %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	out := &syncBuffer{}
	sess.Stdout = out
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}
	return &terminal{session: sess, stdin: stdin, output: out}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func onlySession(t *testing.T, registry *core.Registry) *core.Session {
	t.Helper()
	waitFor(t, "session registration", func() bool { return len(registry.List()) == 1 })
	sess, err := registry.Get(registry.List()[0].ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

// An SSH terminal types a line, a websocket host sees the commit and
// answers with an injection that lands on the terminal.
func TestSSHTerminalToWebsocketHost(t *testing.T) {
	st := startStack(t, schema.BridgeConfig{})
	term := openTerminal(t, st.sshAddr)
	sess := onlySession(t, st.registry)

	url := "ws" + strings.TrimPrefix(st.http.URL, "http") + "/api/sessions/" + string(sess.ID()) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "host subscription", func() bool { return sess.Info().Subscribers == 2 })

	if _, err := term.stdin.Write([]byte("ls\r")); err != nil {
		t.Fatalf("type: %v", err)
	}
	var seen []schema.Tag
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		ev, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		seen = append(seen, ev.Tag())
		if enter, ok := ev.(schema.EnterKeyEvent); ok {
			if enter.CurrentInput != "ls" {
				t.Fatalf("expected committed ls, got %q", enter.CurrentInput)
			}
			break
		}
	}
	// KEY precedes DATA for every keystroke; DATA \r precedes ENTERKEY.
	n := len(seen)
	if n < 3 || seen[n-3] != schema.TagKey || seen[n-2] != schema.TagData || seen[n-1] != schema.TagEnterKey {
		t.Fatalf("unexpected event order %v", seen)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("pwd")); err != nil {
		t.Fatalf("inject: %v", err)
	}
	waitFor(t, "injected input", func() bool { return sess.State().CurrentInput == "pwd" })
	waitFor(t, "injected echo", func() bool { return strings.Contains(term.output.String(), "pwd") })
}

// A gRPC host with an automatic reply sees every commit of an SSH terminal.
func TestSSHTerminalWithEnterReply(t *testing.T) {
	st := startStack(t, schema.BridgeConfig{EnterReply: "ack "})
	term := openTerminal(t, st.sshAddr)
	sess := onlySession(t, st.registry)

	client, err := grpcapi.Dial(context.Background(), st.socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := term.stdin.Write([]byte("one\r")); err != nil {
		t.Fatalf("type: %v", err)
	}
	waitFor(t, "auto reply", func() bool {
		s := sess.State()
		return s.LastCommit == "one" && s.CurrentInput == "ack "
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := client.State(ctx, sess.ID())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if info.Transport != "ssh" || info.State.LastCommit != "one" {
		t.Fatalf("unexpected remote state %+v", info)
	}

	if _, err := term.stdin.Write([]byte{0x7f, 0x7f, 0x7f, 0x7f, 0x7f}); err != nil {
		t.Fatalf("erase: %v", err)
	}
	waitFor(t, "bell on empty erase", func() bool { return sess.State().Bells > 0 })
	if got := sess.State().CurrentInput; got != "" {
		t.Fatalf("expected empty input after erase, got %q", got)
	}
}
