package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/schema"
)

// Server exposes bridge sessions over SSH. Every PTY session becomes one
// terminal surface.
type Server struct {
	Addr        string
	HostKeyPath string
	// TOTPSecret enables keyboard-interactive TOTP login when set.
	TOTPSecret string
	Title      string
	Prompt     string
	Listener   net.Listener
	Registry   *core.Registry
	logger     pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Prompt == "" {
		s.Prompt = "$ "
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Registry == nil {
		return errors.New("session registry is required for SSH")
	}

	signer, err := EnsureHostKey(s.logger, s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if strings.TrimSpace(s.TOTPSecret) != "" {
		server.KeyboardInteractiveHandler = s.handleKeyboardInteractive
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh server listening", "addr", s.Addr, "totp", server.KeyboardInteractiveHandler != nil)

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleKeyboardInteractive(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("user", ctx.User(), "remote", remoteAddr(ctx))
	if sshSession := ctx.SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	answers, err := challenger(ctx.User(), "", []string{"Verification code: "}, []bool{false})
	if err != nil {
		log.Warn("ssh totp rejected", "reason", "challenge failed", "err", err)
		return false
	}
	if len(answers) != 1 {
		log.Warn("ssh totp rejected", "reason", "invalid answer count", "count", len(answers))
		return false
	}
	if !totp.Validate(strings.TrimSpace(answers[0]), s.TOTPSecret) {
		log.Warn("ssh totp rejected", "reason", "invalid code")
		return false
	}
	log.Info("ssh totp accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	remote := sess.RemoteAddr().String()
	log = log.With("user", sess.User(), "remote", remote)
	if sshSession := sess.Context().SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		return
	}

	term := newTerminal(sess, pty.Window.Width, pty.Window.Height, s.Prompt)
	ctx := pslog.ContextWithLogger(sess.Context(), log)
	bridge, err := s.Registry.Open(ctx, core.SessionOptions{Transport: "ssh", Display: term})
	if err != nil {
		log.Warn("ssh session rejected", "reason", "open failed", "err", err)
		_, _ = io.WriteString(sess, "session unavailable\n")
		return
	}
	defer bridge.Close()
	log = logx.WithTransport(log.With("session", bridge.ID()), "ssh")
	log.Info("ssh session opened", "term", pty.Term, "cols", pty.Window.Width, "rows", pty.Window.Height)

	cols, rows := term.SetSize(pty.Window.Width, pty.Window.Height)
	bridge.Notify(schema.ResizeEvent{Cols: cols, Rows: rows})
	if s.Title != "" {
		bridge.Notify(term.SetTitle(s.Title))
	}
	for _, ev := range term.Greet(fmt.Sprintf("termbridge session %s", bridge.ID())) {
		bridge.Notify(ev)
	}

	keys := make(chan keyPress, 16)
	go readKeys(sess, keys)
	start := time.Now()
	reason := "eof"
	for done := false; !done; {
		select {
		case <-ctx.Done():
			reason, done = "context", true
		case <-bridge.Done():
			reason, done = "session closed", true
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			cols, rows := term.SetSize(win.Width, win.Height)
			log.Debug("ssh resize", "cols", cols, "rows", rows)
			bridge.Notify(schema.ResizeEvent{Cols: cols, Rows: rows})
		case k, ok := <-keys:
			if !ok {
				done = true
				continue
			}
			if k.isEOT() && term.LineEmpty() {
				reason, done = "eot", true
				continue
			}
			bridge.Notify(schema.KeyEvent{Key: k.name, DOMEvent: k.domEvent()})
			bridge.Notify(schema.DataEvent{Data: k.unit})
		}
	}
	log.Info("ssh session closed", "reason", reason, "duration", time.Since(start).Round(time.Millisecond).String())
	_ = sess.Exit(0)
}
