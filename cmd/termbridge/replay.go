package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/termbridge/codec"
	"pkt.systems/termbridge/host"
	"pkt.systems/termbridge/schema"
)

func newReplayCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Feed a JSON lines envelope capture through the host dispatcher",
		Long:  "Feed a JSON lines envelope capture (as written by watch --jsonl) through the host dispatcher and print the resulting host state. Reads stdin when file is omitted or \"-\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			state, err := replay(cmd.Context(), in, verbose)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every envelope at info level")
	return cmd
}

func replay(ctx context.Context, r io.Reader, verbose bool) (host.State, error) {
	log := pslog.Ctx(ctx)
	dispatcher := host.NewDispatcher(ctx, host.WithVerbose(verbose))
	stream := codec.NewStream(r)
	malformed := 0
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, schema.ErrProtocol) {
			log.Warn("replay malformed envelope", "err", err)
			malformed++
			continue
		}
		if err != nil {
			return host.State{}, err
		}
		dispatcher.Dispatch(ev)
	}
	state := dispatcher.Mirror().Snapshot()
	log.Info("replay done", "envelopes", state.Envelopes, "unrecognized", state.Unrecognized, "malformed", malformed)
	return state, nil
}
