package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/schema"
)

func newTestServer(t *testing.T, cfg Config) (*core.Registry, *httptest.Server) {
	t.Helper()
	registry, err := core.NewRegistry(schema.BridgeConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ts := httptest.NewServer(NewServer(cfg, registry).Handler())
	t.Cleanup(func() {
		registry.CloseAll()
		ts.Close()
	})
	return registry, ts
}

func openSession(t *testing.T, registry *core.Registry) *core.Session {
	t.Helper()
	sess, err := registry.Open(context.Background(), core.SessionOptions{Transport: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sess
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

func postInject(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestListSessions(t *testing.T) {
	registry, ts := newTestServer(t, Config{})
	sess := openSession(t, registry)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Sessions []core.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].ID != sess.ID() {
		t.Fatalf("unexpected sessions %+v", payload.Sessions)
	}
}

func TestSessionErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	cases := []struct {
		path string
		want int
	}{
		{"/api/sessions/not-a-uuid/state", http.StatusBadRequest},
		{"/api/sessions/" + string(schema.NewSessionID()) + "/state", http.StatusNotFound},
		{"/api/sessions/" + string(schema.NewSessionID()) + "/stream", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + tc.path)
		if err != nil {
			t.Fatalf("get %s: %v", tc.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestInjectUpdatesSession(t *testing.T) {
	registry, ts := newTestServer(t, Config{})
	sess := openSession(t, registry)
	url := ts.URL + "/api/sessions/" + string(sess.ID()) + "/inject"

	if resp := postInject(t, url, `{"text":"ls\r"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	waitFor(t, "commit", func() bool { return sess.State().LastCommit == "ls" })

	if resp := postInject(t, url, `{"text":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", resp.StatusCode)
	}
	if resp := postInject(t, url, `{"text":"x","extra":1}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversEnvelopes(t *testing.T) {
	registry, ts := newTestServer(t, Config{})
	sess := openSession(t, registry)

	resp, err := http.Get(ts.URL + "/api/sessions/" + string(sess.ID()) + "/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sess.Inject("a\r")
	reader := bufio.NewReader(resp.Body)
	var data []string
	for len(data) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") && !strings.Contains(line, `"type":"INFO"`) {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data: ")))
		}
	}
	want := []string{
		`{"type":"DATA","data":"a","currentInput":"a"}`,
		`{"type":"DATA","data":"\r","currentInput":""}`,
		`{"type":"ENTERKEY","currentInput":"a"}`,
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, data[i], want[i])
		}
	}
}

func TestHostSocketInjectsAndStreams(t *testing.T) {
	registry, ts := newTestServer(t, Config{})
	sess := openSession(t, registry)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/sessions/"+string(sess.ID())+"/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "host subscription", func() bool { return sess.Info().Subscribers == 2 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []string{
		`{"type":"DATA","data":"h","currentInput":"h"}`,
		`{"type":"DATA","data":"i","currentInput":"hi"}`,
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < len(want); {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if strings.Contains(string(data), `"type":"INFO"`) {
			continue
		}
		if string(data) != want[i] {
			t.Fatalf("message %d = %s, want %s", i, data, want[i])
		}
		i++
	}

	sess.Close()
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestSurfaceSocketDrivesSession(t *testing.T) {
	registry, ts := newTestServer(t, Config{})
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/surface"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "surface session", func() bool { return len(registry.List()) == 1 })
	sess, err := registry.Get(registry.List()[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	messages := []string{
		`{"type":"RESIZE","cols":120,"rows":40}`,
		`not json`,
		`{"type":"FOO"}`,
		`{"type":"DATA","data":"x","currentInput":"ignored"}`,
	}
	for _, msg := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, echo, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echo) != "x" {
		t.Fatalf("expected echo x, got %q", echo)
	}
	waitFor(t, "mirror", func() bool {
		state := sess.State()
		return state.CurrentInput == "x" && state.Cols == 120 && state.Rows == 40
	})

	sess.Inject("y")
	_, echo, err = conn.ReadMessage()
	if err != nil || string(echo) != "y" {
		t.Fatalf("expected injected echo y, got %q (%v)", echo, err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, "teardown", func() bool { return len(registry.List()) == 0 })
}

func TestBasePathPrefix(t *testing.T) {
	_, ts := newTestServer(t, Config{BasePath: "/bridge/"})
	resp, err := http.Get(ts.URL + "/bridge/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", resp.StatusCode)
	}
}
