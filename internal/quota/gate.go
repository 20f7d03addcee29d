// Package quota enforces the per-user daily send limits.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/pkg/logger"
)

// Store persists daily counters. ReserveSlot must be atomic: it increments
// scheduled only while sent+scheduled is below limit.
type Store interface {
	GetCounter(ctx context.Context, userID string, category models.Category, window string) (*models.DailyCounter, error)
	ReserveSlot(ctx context.Context, userID string, category models.Category, window string, limit int) (bool, error)
	CompleteSlot(ctx context.Context, userID string, category models.Category, window string) error
	ReleaseSlot(ctx context.Context, userID string, category models.Category, window string) error
}

// Outcome is the result of asking for a slot
type Outcome string

const (
	OutcomeImmediate           Outcome = "immediate"
	OutcomeScheduledNextWindow Outcome = "scheduled_next_window"
)

// Limits holds the daily cap per category
type Limits struct {
	Message int
	Reply   int
}

// Reservation describes a granted or deferred slot. Complete and Release
// only apply to Immediate reservations.
type Reservation struct {
	Outcome   Outcome
	UserID    string
	Category  models.Category
	WindowKey string
	// RunAt is now for Immediate, the next reset for ScheduledNextWindow
	RunAt time.Time
}

// Immediate reports whether the action may run now
func (r Reservation) Immediate() bool {
	return r.Outcome == OutcomeImmediate
}

// CategoryStats is the daily usage of one category
type CategoryStats struct {
	SentToday      int `json:"sentToday"`
	ScheduledToday int `json:"scheduledToday"`
	DailyLimit     int `json:"dailyLimit"`
	AvailableToday int `json:"availableToday"`
}

// DailyStats is the usage summary for one user
type DailyStats struct {
	Messages      CategoryStats `json:"messages"`
	Replies       CategoryStats `json:"replies"`
	NextResetTime time.Time     `json:"nextResetTime"`
}

// Gate decides whether a send runs now or waits for the next window
type Gate struct {
	store    Store
	limits   Limits
	schedule Schedule
	now      func() time.Time
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGate creates a quota gate
func NewGate(store Store, limits Limits, schedule Schedule, log *logger.Logger) *Gate {
	return &Gate{
		store:    store,
		limits:   limits,
		schedule: schedule,
		now:      time.Now,
		log:      log.WithComponent("quota"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Schedule returns the reset schedule
func (g *Gate) Schedule() Schedule {
	return g.schedule
}

// Limit returns the daily cap for a category
func (g *Gate) Limit(category models.Category) int {
	if category == models.CategoryReply {
		return g.limits.Reply
	}
	return g.limits.Message
}

// NextReset returns the next reset boundary
func (g *Gate) NextReset() time.Time {
	return g.schedule.NextReset(g.now())
}

func (g *Gate) lock(userID string, category models.Category) *sync.Mutex {
	key := userID + "|" + string(category)
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.locks[key]
	if !ok {
		m = &sync.Mutex{}
		g.locks[key] = m
	}
	return m
}

// Reserve takes one slot in today's window if usage is below the limit.
// Otherwise nothing is consumed and the action is deferred to the next
// reset boundary.
func (g *Gate) Reserve(ctx context.Context, userID string, category models.Category) (Reservation, error) {
	if !category.Valid() {
		return Reservation{}, fmt.Errorf("unknown quota category %q", category)
	}

	m := g.lock(userID, category)
	m.Lock()
	defer m.Unlock()

	now := g.now()
	window := g.schedule.WindowKey(now)

	ok, err := g.store.ReserveSlot(ctx, userID, category, window, g.Limit(category))
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve %s slot: %w", category, err)
	}

	if ok {
		return Reservation{
			Outcome:   OutcomeImmediate,
			UserID:    userID,
			Category:  category,
			WindowKey: window,
			RunAt:     now.UTC(),
		}, nil
	}

	next := g.schedule.NextReset(now)
	g.log.WithUserID(userID).Debug().
		Str("category", string(category)).
		Time("run_at", next).
		Msg("Daily limit reached, deferring to next window")

	return Reservation{
		Outcome:   OutcomeScheduledNextWindow,
		UserID:    userID,
		Category:  category,
		WindowKey: g.schedule.WindowKey(next),
		RunAt:     next.UTC().Truncate(time.Second),
	}, nil
}

// Complete turns a reserved slot into a sent one
func (g *Gate) Complete(ctx context.Context, r Reservation) error {
	if !r.Immediate() {
		return nil
	}
	if err := g.store.CompleteSlot(ctx, r.UserID, r.Category, r.WindowKey); err != nil {
		return fmt.Errorf("failed to complete %s slot: %w", r.Category, err)
	}
	return nil
}

// Release gives back a reserved slot after a terminal failure
func (g *Gate) Release(ctx context.Context, r Reservation) error {
	if !r.Immediate() {
		return nil
	}
	if err := g.store.ReleaseSlot(ctx, r.UserID, r.Category, r.WindowKey); err != nil {
		return fmt.Errorf("failed to release %s slot: %w", r.Category, err)
	}
	return nil
}

// Stats reports today's usage for a user
func (g *Gate) Stats(ctx context.Context, userID string) (*DailyStats, error) {
	now := g.now()
	window := g.schedule.WindowKey(now)

	messages, err := g.categoryStats(ctx, userID, models.CategoryMessage, window)
	if err != nil {
		return nil, err
	}
	replies, err := g.categoryStats(ctx, userID, models.CategoryReply, window)
	if err != nil {
		return nil, err
	}

	return &DailyStats{
		Messages:      messages,
		Replies:       replies,
		NextResetTime: g.schedule.NextReset(now),
	}, nil
}

func (g *Gate) categoryStats(ctx context.Context, userID string, category models.Category, window string) (CategoryStats, error) {
	c, err := g.store.GetCounter(ctx, userID, category, window)
	if err != nil {
		return CategoryStats{}, fmt.Errorf("failed to load %s counter: %w", category, err)
	}
	limit := g.Limit(category)
	available := limit - c.Used()
	if available < 0 {
		available = 0
	}
	return CategoryStats{
		SentToday:      c.Sent,
		ScheduledToday: c.Scheduled,
		DailyLimit:     limit,
		AvailableToday: available,
	}, nil
}
