// Package app wires the components shared by the server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/linkedin-autodm/internal/agent/monitor"
	"github.com/linkedin-autodm/internal/automation"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/linkedin"
	"github.com/linkedin-autodm/internal/quota"
	"github.com/linkedin-autodm/internal/storage/gormstore"
	"github.com/linkedin-autodm/internal/tracker"
	"github.com/linkedin-autodm/pkg/logger"
	"github.com/linkedin-autodm/pkg/ratelimit"
)

// App holds the wired components
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Repo     *gormstore.Repository
	Gateway  *linkedin.Client
	Gate     *quota.Gate
	Schedule quota.Schedule
	Monitor  *monitor.Agent
	Files    *automation.FileStore
	Service  *automation.Service

	redis *redis.Client
}

// NewLogger builds the logger from the logging section
func NewLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// New opens storage, migrates it and wires the engine
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, err := gormstore.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("Database ready")

	a := &App{Config: cfg, Log: log, Repo: repo}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}
	a.Schedule = quota.Schedule{Hour: cfg.Quota.ResetHour, Minute: cfg.Quota.ResetMinute, Location: loc}

	var counters quota.Store = a.Repo
	if cfg.Quota.Store == "redis" {
		a.redis, err = quota.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		counters = quota.NewRedisStore(a.redis)
		a.Log.Info().Msg("Using Redis for quota counters")
	}
	a.Gate = quota.NewGate(counters, quota.Limits{
		Message: cfg.Quota.MessageDailyLimit,
		Reply:   cfg.Quota.ReplyDailyLimit,
	}, a.Schedule, a.Log)

	limiter := ratelimit.NewDefaultLimiter(ratelimit.Rates{
		ReadPerSecond:  cfg.RateLimit.GatewayReadsPerSecond,
		ReadBurst:      cfg.RateLimit.GatewayReadBurst,
		WritePerSecond: cfg.RateLimit.GatewayWritesPerSecond,
		WriteBurst:     cfg.RateLimit.GatewayWriteBurst,
	})
	a.Gateway = linkedin.NewClient(cfg.LinkedIn, limiter, a.Log)

	a.Monitor = monitor.NewAgent(a.Repo, a.Gateway, a.Gate, cfg.Delivery, cfg.Automation, a.Log)

	sheetsTracker, err := tracker.NewSheetsTracker(ctx, cfg.Tracker, a.Log)
	if err != nil {
		return fmt.Errorf("failed to create delivery tracker: %w", err)
	}
	if sheetsTracker != nil {
		a.Monitor.SetTracker(sheetsTracker)
		a.Log.Info().Str("spreadsheet", cfg.Tracker.SpreadsheetID).Msg("Delivery export to Google Sheets enabled")
	}

	a.Files, err = automation.NewFileStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to prepare upload storage: %w", err)
	}

	a.Service = automation.NewService(a.Repo, a.Files, a.Gateway, a.Monitor, a.Gate, a.Log)
	return nil
}

// Close releases storage connections
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close redis")
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
