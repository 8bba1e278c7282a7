package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/defistate/sharepool-go/streams/jsonrpc/server"
	"github.com/defistate/sharepool-go/streams/jsonrpc/stateops"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a pool over JSON-RPC (HTTP and websocket) with prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	registry := prometheus.DefaultRegisterer

	d, err := deploy(ctx, a.cfg, logger, registry)
	if err != nil {
		logger.Error("Failed to deploy pool", "error", err)
		return err
	}

	ops, err := stateops.NewStateOps(logger.With("component", "differ"), registry)
	if err != nil {
		logger.Error("Failed to initialize state ops", "error", err)
		return err
	}

	api, err := server.NewPoolAPI(server.Config{
		Pool:       d.pool,
		Differ:     ops,
		Logger:     logger.With("component", "jsonrpc-server"),
		BufferSize: a.cfg.StreamBufferSize,
	})
	if err != nil {
		return err
	}

	var ledgerAPI *server.LedgerAPI
	if a.cfg.LedgerAPI {
		ledgerAPI = server.NewLedgerAPI(d.assets, d.shares, d.source, logger.With("component", "ledger-api"))
	}

	rpcServer, err := server.NewServer(api, ledgerAPI)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	wsHandler := rpcServer.WebsocketHandler([]string{"*"})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			wsHandler.ServeHTTP(w, r)
			return
		}
		rpcServer.ServeHTTP(w, r)
	})

	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving JSON-RPC", "addr", a.cfg.ListenAddr, "ledger_api", a.cfg.LedgerAPI)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", "error", err)
	}
	if err := d.pool.Verify(shutdownCtx); err != nil {
		logger.Error("Pool failed verification at shutdown", "error", err)
		return err
	}
	return nil
}
