package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskpulse/internal/app"
	"taskpulse/internal/config"
	"taskpulse/internal/logger"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pulsectl",
		Short:         "pulsectl - operate the taskpulse store and detector",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(watchCmd())
	return rootCmd
}

// open wires the same storage the server uses. Server-only secrets are not required here.
func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	mode := os.Getenv("LOG_MODE")
	if mode == "" {
		mode = "prod"
	}
	lg, err := logger.New(mode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return app.New(ctx, cfg, lg)
}
