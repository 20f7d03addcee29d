package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linkedin-autodm/internal/api"
	"github.com/linkedin-autodm/internal/app"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/scheduler"
)

var (
	cfgFile     string
	noScheduler bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "autodm-server",
		Short: "LinkedIn comment-to-DM automation API",
		Long: `Serves the automation REST API and, unless disabled, runs the hourly
comment scans and the daily drain of deferred messages.`,
		RunE: runServer,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API only")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Scheduler.Enabled && !noScheduler {
		sched := scheduler.New(cfg.Scheduler, a.Schedule, a.Repo, a.Monitor, log)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := api.NewServer(cfg.Server, api.NewAuthenticator(cfg.Auth), a.Service, a.Files, log)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
