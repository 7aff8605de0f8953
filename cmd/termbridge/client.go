package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/core"
	"pkt.systems/termbridge/host"
	"pkt.systems/termbridge/internal/appconfig"
	"pkt.systems/termbridge/internal/grpcapi"
	"pkt.systems/termbridge/internal/logx"
	"pkt.systems/termbridge/schema"
)

type clientFlags struct {
	cfgPath string
	socket  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.socket, "socket", "", "grpc socket path (overrides grpc.socket_path)")
}

func (f *clientFlags) dial(ctx context.Context) (*grpcapi.Client, error) {
	socket := strings.TrimSpace(f.socket)
	if socket == "" {
		cfg, err := appconfig.Load(f.cfgPath)
		if err != nil {
			return nil, err
		}
		socket = cfg.GRPC.SocketPath
	}
	if socket == "" {
		return nil, errors.New("grpc socket path is not configured")
	}
	return grpcapi.Dial(ctx, socket)
}

func newWatchCmd() *cobra.Command {
	var flags clientFlags
	var reply string
	var jsonl bool
	cmd := &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Attach as a host and log every envelope of a session",
		Long:  "Attach as a host and log every envelope of a session. Without a session id the newest session is watched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.Contains(reply, schema.CommitUnit) {
				return fmt.Errorf("%w: reply must not contain a carriage return", schema.ErrInvalidRequest)
			}
			ctx := cmd.Context()
			client, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			id, err := resolveSession(ctx, client, args)
			if err != nil {
				return err
			}
			var out *codec.Writer
			if jsonl {
				out = codec.NewWriter(cmd.OutOrStdout())
			}
			return watchSession(ctx, client, id, reply, out)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&reply, "reply", "", "text injected after every committed line")
	cmd.Flags().BoolVar(&jsonl, "jsonl", false, "write received envelopes to stdout as JSON lines")
	return cmd
}

func watchSession(ctx context.Context, client *grpcapi.Client, id schema.SessionID, reply string, out *codec.Writer) error {
	log := logx.WithSession(ctx, id)
	ctx = logx.ContextWithSessionLogger(ctx, log, id)
	stream, err := client.Subscribe(ctx, id)
	if err != nil {
		return err
	}
	injector := host.InjectorFunc(func(text string) {
		injectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Inject(injectCtx, id, text); err != nil {
			log.Warn("watch reply failed", "err", err)
		}
	})
	dispatcher := host.NewDispatcher(ctx,
		host.WithVerbose(true),
		host.WithResponder(host.ReplyResponder{Reply: reply, Injector: injector}),
	)
	log.Info("watch attached")
	for {
		raw, err := stream.Next()
		if errors.Is(err, io.EOF) {
			state := dispatcher.Mirror().Snapshot()
			log.Info("watch session ended", "envelopes", state.Envelopes, "commits", state.Commits, "malformed", state.Malformed)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if out != nil {
			if err := out.WriteRaw(raw); err != nil {
				return err
			}
		}
		_ = dispatcher.DispatchRaw(raw)
	}
}

func resolveSession(ctx context.Context, client *grpcapi.Client, args []string) (schema.SessionID, error) {
	if len(args) > 0 {
		id := schema.SessionID(strings.TrimSpace(args[0]))
		if err := schema.ValidateSessionID(id); err != nil {
			return "", err
		}
		return id, nil
	}
	infos, err := client.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", schema.ErrSessionNotFound
	}
	return newestSession(infos).ID, nil
}

func newestSession(infos []core.SessionInfo) core.SessionInfo {
	newest := infos[0]
	for _, info := range infos[1:] {
		if info.CreatedAt.After(newest.CreatedAt) {
			newest = info
		}
	}
	return newest
}

func newInjectCmd() *cobra.Command {
	var flags clientFlags
	var commit bool
	cmd := &cobra.Command{
		Use:   "inject <session-id> <text>",
		Short: "Inject text into a session as if it was typed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := schema.SessionID(strings.TrimSpace(args[0]))
			if err := schema.ValidateSessionID(id); err != nil {
				return err
			}
			text := args[1]
			if commit {
				text += schema.CommitUnit
			}
			if text == "" {
				return fmt.Errorf("%w: text is required", schema.ErrInvalidRequest)
			}
			ctx := cmd.Context()
			client, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return client.Inject(ctx, id, text)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&commit, "commit", false, "append a carriage return so the line is committed")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			infos, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), infos)
		},
	}
	flags.register(cmd)
	return cmd
}

func printSessions(w io.Writer, infos []core.SessionInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTRANSPORT\tCREATED\tSIZE\tSUBSCRIBERS\tEMITTED\tINPUT")
	for _, info := range infos {
		size := "-"
		if info.State.Cols > 0 && info.State.Rows > 0 {
			size = fmt.Sprintf("%dx%d", info.State.Cols, info.State.Rows)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%q\n",
			info.ID,
			info.Transport,
			info.CreatedAt.Format(time.RFC3339),
			size,
			info.Subscribers,
			info.Emitted,
			info.State.CurrentInput,
		)
	}
	return tw.Flush()
}
