package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linkedin-autodm/internal/app"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/scheduler"
	"github.com/linkedin-autodm/pkg/logger"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "autodm-scheduler",
		Short: "Background scheduler for LinkedIn auto-DM",
		Long: `Runs the hourly comment scans and the daily drain of deferred messages
without serving the API. Use it when the API runs with --no-scheduler.`,
		RunE: runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	log.Info().Msg("Starting LinkedIn auto-DM scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// Start health check server for the hosting platform
	go startHealthServer(log)

	sched := scheduler.New(cfg.Scheduler, a.Schedule, a.Repo, a.Monitor, log)
	if err := sched.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down scheduler")
	sched.Stop()
	return nil
}

// startHealthServer starts a simple HTTP server for health checks
func startHealthServer(log *logger.Logger) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	log.Info().Str("port", port).Msg("Health check server starting")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error().Err(err).Msg("Health server failed")
	}
}
