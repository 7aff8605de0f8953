// Package termbridge composes the session registry with the SSH, HTTP and
// gRPC listeners that attach terminals and hosts to it.
package termbridge

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/httpapi"
	"pkt.systems/termbridge/internal/grpcapi"
	"pkt.systems/termbridge/schema"
	"pkt.systems/termbridge/sshserver"
)

// Server composes the HTTP, SSH, and gRPC services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Registry() *core.Registry
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Bridge schema.BridgeConfig
	HTTP   httpapi.Config
	SSH    sshserver.Config
	GRPC   GRPCConfig
}

// GRPCConfig configures the local gRPC socket.
type GRPCConfig struct {
	SocketPath string
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
	enableGRPC bool
}

// WithHTTP enables the HTTP API and websocket server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH terminal surface.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithGRPC enables the gRPC host socket.
func WithGRPC() ServerOption {
	return func(o *serverOptions) { o.enableGRPC = true }
}

// New constructs a composable termbridge server.
func New(cfg ServerConfig, logger pslog.Logger, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH && !options.enableGRPC {
		return nil, errors.New("no services enabled")
	}
	registry, err := core.NewRegistry(cfg.Bridge, logger)
	if err != nil {
		return nil, err
	}
	cfg.Bridge = registry.Config()

	srv := &compositeServer{cfg: cfg, options: options, registry: registry}
	if options.enableHTTP {
		srv.httpSrv = httpapi.NewServer(cfg.HTTP, registry)
	}
	if options.enableSSH {
		srv.sshSrv = &sshserver.Server{
			Addr:        cfg.SSH.Addr,
			HostKeyPath: cfg.SSH.HostKeyPath,
			TOTPSecret:  cfg.SSH.TOTPSecret,
			Title:       cfg.SSH.Title,
			Prompt:      cfg.SSH.Prompt,
			Registry:    registry,
		}
	}
	if options.enableGRPC {
		srv.grpcSrv = &grpcapi.Server{SocketPath: cfg.GRPC.SocketPath, Registry: registry}
	}
	return srv, nil
}

type compositeServer struct {
	cfg      ServerConfig
	options  serverOptions
	registry *core.Registry
	httpSrv  *httpapi.Server
	sshSrv   *sshserver.Server
	grpcSrv  *grpcapi.Server
	logger   pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Registry() *core.Registry {
	return s.registry
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 3)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"grpc", s.options.enableGRPC,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
		"grpc_socket", s.cfg.GRPC.SocketPath,
		"queue_depth", s.cfg.Bridge.QueueDepth,
		"overflow", string(s.cfg.Bridge.Overflow),
	)
	if s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.grpcSrv != nil {
		go func() {
			if err := s.grpcSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("grpc server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	// Listeners go first so terminal connections are closed and no display
	// write can hold up session teardown.
	if cancel != nil {
		cancel()
	}
	if s.registry != nil {
		s.registry.CloseAll()
		log.Info("server sessions closed")
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
