package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/termbridge"
	"pkt.systems/termbridge/httpapi"
	"pkt.systems/termbridge/internal/appconfig"
	"pkt.systems/termbridge/sshserver"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var enterReply string
	var logEnvelopes bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SSH, HTTP and gRPC listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enter-reply") {
				cfg.Bridge.EnterReply = enterReply
			}
			if logEnvelopes {
				cfg.Logging.LogEnvelopes = true
			}
			serverCfg, opts := toServerConfig(cfg)
			if len(opts) == 0 {
				return errors.New("no listeners configured: set http.addr, ssh.addr or grpc.socket_path")
			}
			server, err := termbridge.New(serverCfg, logger, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&enterReply, "enter-reply", "", "text injected after every committed line (overrides bridge.enter_reply)")
	cmd.Flags().BoolVar(&logEnvelopes, "log-envelopes", false, "log every dispatched envelope at info level")
	return cmd
}

func toServerConfig(cfg appconfig.Config) (termbridge.ServerConfig, []termbridge.ServerOption) {
	serverCfg := termbridge.ServerConfig{
		Bridge: cfg.BridgeSettings(),
		HTTP:   toHTTPConfig(cfg.HTTP),
		SSH:    toSSHConfig(cfg.SSH),
		GRPC:   termbridge.GRPCConfig{SocketPath: cfg.GRPC.SocketPath},
	}
	var opts []termbridge.ServerOption
	if strings.TrimSpace(cfg.HTTP.Addr) != "" {
		opts = append(opts, termbridge.WithHTTP())
	}
	if strings.TrimSpace(cfg.SSH.Addr) != "" {
		opts = append(opts, termbridge.WithSSH())
	}
	if strings.TrimSpace(cfg.GRPC.SocketPath) != "" {
		opts = append(opts, termbridge.WithGRPC())
	}
	return serverCfg, opts
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:     cfg.Addr,
		BasePath: cfg.BasePath,
	}
}

func toSSHConfig(cfg appconfig.SSHConfig) sshserver.Config {
	return sshserver.Config{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
		TOTPSecret:  cfg.TOTPSecret,
		Title:       cfg.Title,
		Prompt:      "> ",
	}
}
