package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/defistate/sharepool-go/cmd/sharepool/config"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func main() {
	// Cancel on interrupt (Ctrl+C) or termination.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "sharepool",
		Short:        "Share-based pooled yield accounting engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Path to the configuration file.")

	root.AddCommand(a.serveCmd(), a.simulateCmd(), a.watchCmd())
	return root
}

// load reads the configuration and creates the root JSON logger. Logs go to stderr so
// commands can write results to stdout.
func (a *app) load(cmd *cobra.Command) error {
	bootstrap := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))
	bootstrap.Info("Loading configuration", "path", a.configPath)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		bootstrap.Error("Failed to load configuration", "error", err)
		return err
	}
	level, _ := cfg.SlogLevel()

	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}
