// Package scheduler drives the hourly comment scans and the daily drain of
// actions deferred by the quota.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/linkedin-autodm/internal/agent/monitor"
	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/quota"
	"github.com/linkedin-autodm/internal/storage"
	"github.com/linkedin-autodm/pkg/logger"
)

// Runner executes scans and drains
type Runner interface {
	Run(ctx context.Context, automationID string) (*monitor.RunResult, error)
	DrainScheduled(ctx context.Context) (*monitor.DrainResult, error)
}

// Lister lists automations eligible for a scan
type Lister interface {
	ListAutomations(ctx context.Context, filter storage.AutomationFilter) ([]*models.Automation, error)
}

// BatchResult summarises one pass over every eligible automation
type BatchResult struct {
	Automations  int
	Succeeded    int
	Skipped      int // busy or no longer active
	Failed       int
	MessagesSent int
	RepliesSent  int
	Scheduled    int
	Duration     time.Duration
}

// Scheduler owns the cron loop
type Scheduler struct {
	cron        *cron.Cron
	automations Lister
	runner      Runner
	concurrency int
	scanSpec    string
	drainSpec   string
	log         *logger.Logger

	// serialises batches so a slow pass never overlaps the next tick
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. The drain job fires at the quota reset time.
func New(cfg config.SchedulerConfig, reset quota.Schedule, automations Lister, runner Runner, log *logger.Logger) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	scanSpec := cfg.ScanCron
	if scanSpec == "" {
		scanSpec = "0 * * * *"
	}

	l := log.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:        cron.New(cron.WithLogger(cronLogger{l})),
		automations: automations,
		runner:      runner,
		concurrency: concurrency,
		scanSpec:    scanSpec,
		drainSpec:   DrainSpec(reset),
		log:         l,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// DrainSpec is the cron expression for the daily reset boundary
func DrainSpec(reset quota.Schedule) string {
	loc := reset.Location
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), reset.Minute, reset.Hour)
}

// Start registers the jobs and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.scanSpec, s.scanJob); err != nil {
		return fmt.Errorf("failed to schedule scan job: %w", err)
	}
	s.log.Info().Str("cron", s.scanSpec).Msg("Scan job scheduled")

	if _, err := s.cron.AddFunc(s.drainSpec, s.drainJob); err != nil {
		return fmt.Errorf("failed to schedule drain job: %w", err)
	}
	s.log.Info().Str("cron", s.drainSpec).Msg("Drain job scheduled")

	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) scanJob() {
	// Catch up on deferred actions whose reset passed while we were down
	if _, err := s.Drain(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("Catch-up drain failed")
	}
	if _, err := s.RunAll(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("Scheduled scan failed")
	}
}

func (s *Scheduler) drainJob() {
	if _, err := s.Drain(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("Scheduled drain failed")
	}
}

// Drain executes due deferred actions
func (s *Scheduler) Drain(ctx context.Context) (*monitor.DrainResult, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	res, err := s.runner.DrainScheduled(ctx)
	if err != nil {
		return nil, err
	}
	if res.Due > 0 {
		s.log.Info().
			Int("due", res.Due).
			Int("claimed", res.Claimed).
			Int("executed", res.Executed).
			Int("deferred", res.Deferred).
			Int("failed", res.Failed).
			Msg("Deferred actions drained")
	}
	return res, nil
}

// RunAll scans every active automation, plus those left in error by a
// previous run, up to the configured concurrency
func (s *Scheduler) RunAll(ctx context.Context) (*BatchResult, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	start := time.Now()
	targets, err := s.eligible(ctx)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Automations: len(targets)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, a := range targets {
		g.Go(func() error {
			res, err := s.runner.Run(gctx, a.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, apperrors.ErrAutomationBusy), errors.Is(err, apperrors.ErrAutomationInactive), errors.Is(err, apperrors.ErrNotFound):
				result.Skipped++
			case err != nil:
				result.Failed++
				s.log.Warn().Err(err).Str("automation_id", a.ID).Msg("Automation run failed")
			default:
				result.Succeeded++
				result.MessagesSent += res.MessagesSent
				result.RepliesSent += res.RepliesSent
				result.Scheduled += res.Scheduled
			}
			// one automation failing never stops the batch
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	s.log.Info().
		Int("automations", result.Automations).
		Int("succeeded", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("messages_sent", result.MessagesSent).
		Int("replies_sent", result.RepliesSent).
		Int("scheduled", result.Scheduled).
		Dur("duration", result.Duration).
		Msg("Scan batch completed")

	return result, ctx.Err()
}

func (s *Scheduler) eligible(ctx context.Context) ([]*models.Automation, error) {
	var out []*models.Automation
	for _, status := range []models.AutomationStatus{models.AutomationStatusActive, models.AutomationStatusError} {
		list, err := s.automations.ListAutomations(ctx, storage.AutomationFilter{Status: &status})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s automations: %w", status, err)
		}
		out = append(out, list...)
	}
	return out, nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
