package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/defistate/sharepool-go/streams/jsonrpc/client"
	"github.com/defistate/sharepool-go/streams/jsonrpc/stateops"
)

const defaultClientStateBufferSize = 100

func (a *app) watchCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a served pool's state stream and log every committed state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = fmt.Sprintf("ws://%s", a.cfg.ListenAddr)
			}
			return a.watch(cmd.Context(), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Websocket URL of the pool server (default ws://<listen_addr>).")
	return cmd
}

func (a *app) watch(ctx context.Context, url string) error {
	logger := a.logger
	ops, err := stateops.NewStateOps(logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	c, err := client.NewClient(ctx, client.Config{
		URL:              url,
		Logger:           logger.With("component", "jsonrpc-client"),
		BufferSize:       defaultClientStateBufferSize,
		StatePatcher:     ops.Patch,
		StateDecoder:     ops.DecodeStateJSON,
		StateDiffDecoder: ops.DecodeStateDiffJSON,
	})
	if err != nil {
		logger.Error("Failed to initialize client", "url", url, "error", err)
		return err
	}

	for {
		select {
		case state := <-c.State():
			logger.Info("Pool state",
				"sequence", state.Sequence,
				"total_shares", state.TotalShares.Dec(),
				"total_pooled_assets", state.TotalPooledAssets.Dec(),
				"assets_per_share", state.AssetsPerShare.Dec(),
				"holders", len(state.Holders),
			)
		case <-c.Err():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
