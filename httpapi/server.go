package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/schema"
)

const maxInjectBytes = 64 << 10

// Server serves the host-facing HTTP API and the browser surface websocket.
type Server struct {
	cfg      Config
	registry *core.Registry
	basePath string
	upgrader websocket.Upgrader
}

// InjectRequest is the body of POST /api/sessions/{id}/inject.
type InjectRequest struct {
	Text string `json:"text"`
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, registry *core.Registry) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		basePath: normalizeBasePath(cfg.BasePath),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/state", s.handleState)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /api/sessions/{id}/inject", s.handleInject)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleHostSocket)
	mux.HandleFunc("GET /api/surface", s.handleSurfaceSocket)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	log := logx.WithSession(r.Context(), sess.ID())
	var payload InjectRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxInjectBytes), &payload); err != nil {
		log.Warn("http inject decode failed", "err", err)
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	if payload.Text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: text is required", schema.ErrInvalidRequest))
		return
	}
	sess.Inject(payload.Text)
	log.Debug("http inject queued", "len", len(payload.Text))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info("http stream opened")
	sent := 0
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed", "sent", sent, "dropped", sub.Dropped())
			return
		case delivery, ok := <-sub.C():
			if !ok {
				_, _ = io.WriteString(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				log.Info("http stream ended", "reason", "session closed", "sent", sent)
				return
			}
			if err := writeSSEvent(w, delivery.Seq, delivery.Envelope); err != nil {
				log.Warn("http stream write failed", "err", err)
				return
			}
			flusher.Flush()
			sent++
		}
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.registry.Get(schema.SessionID(r.PathValue("id")))
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, schema.ErrSessionClosed):
		writeError(w, http.StatusGone, err)
	case errors.Is(err, schema.ErrInvalidSessionID), errors.Is(err, schema.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// writeSSEvent writes one envelope. Envelopes are single-line JSON.
func writeSSEvent(w io.Writer, seq uint64, envelope string) error {
	if seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(envelope))
	return err
}
