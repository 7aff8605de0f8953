package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/schema"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 64 << 10
)

// handleHostSocket streams envelopes to a host over a websocket. Text
// frames received from the host are injected into the session.
func (s *Server) handleHostSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sub, unsubscribe, err := sess.Subscribe()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	defer unsubscribe()
	log := logx.WithSession(r.Context(), sess.ID())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("http host socket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)
	log.Info("http host socket opened")

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("http host socket read ended", "err", err)
				}
				return
			}
			if kind != websocket.TextMessage || len(data) == 0 {
				continue
			}
			sess.Inject(string(data))
		}
	}()

	for {
		select {
		case <-readerDone:
			log.Info("http host socket closed", "dropped", sub.Dropped())
			return
		case <-r.Context().Done():
			return
		case delivery, ok := <-sub.C():
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure, "session closed")
				log.Info("http host socket closed", "reason", "session closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(delivery.Envelope)); err != nil {
				log.Warn("http host socket write failed", "err", err)
				return
			}
		}
	}
}

// handleSurfaceSocket attaches a browser terminal as a surface. The browser
// sends raw notifications as envelopes and receives the text it must write
// to its terminal: echo for typed units and injected input.
func (s *Server) handleSurfaceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http surface socket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	display := &socketDisplay{conn: conn}
	sess, err := s.registry.Open(r.Context(), core.SessionOptions{Transport: "websocket", Display: display})
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http surface socket rejected", "err", err)
		writeClose(conn, websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	defer sess.Close()
	log := logx.WithTransport(logx.WithSession(r.Context(), sess.ID()), "websocket")
	display.setLogger(log)
	log.Info("http surface socket opened")

	received, malformed := 0, 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("http surface socket read ended", "err", err)
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := codec.Decode(data)
		if err != nil {
			malformed++
			log.Warn("http surface malformed notification", "err", err)
			continue
		}
		if unknown, ok := ev.(schema.UnknownEvent); ok {
			log.Info("http surface unrecognized notification", "type", unknown.Type)
			continue
		}
		received++
		sess.Notify(ev)
	}
	log.Info("http surface socket closed", "received", received, "malformed", malformed)
}

// socketDisplay forwards echo text to the browser terminal. The browser
// reports its own line feeds, scrolls and bells, so Echo has no follow-ups.
type socketDisplay struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  pslog.Logger
}

func (d *socketDisplay) setLogger(log pslog.Logger) {
	d.mu.Lock()
	d.log = log
	d.mu.Unlock()
}

func (d *socketDisplay) Echo(tr core.Transition) []schema.Event {
	text := core.EchoText(tr)
	if text == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := d.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil && d.log != nil && !errors.Is(err, websocket.ErrCloseSent) {
		d.log.Debug("http surface echo failed", "err", err)
	}
	return nil
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
