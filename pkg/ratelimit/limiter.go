package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages multiple rate limiters for different services
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter adds a new rate limiter for a service
// requestsPerSecond: the rate limit (e.g., 10 means 10 requests per second)
// burst: maximum burst size
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until the limiter allows an event
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("limiter %s not found", name)
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (m *MultiLimiter) Allow(name string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return limiter.Allow()
}

// Limiter names
const (
	// LimiterGatewayRead covers comment feed and post lookups.
	LimiterGatewayRead = "gateway_read"
	// LimiterGatewayWrite covers outbound DMs and comment replies.
	LimiterGatewayWrite = "gateway_write"
)

// Rates configures the default limiters.
type Rates struct {
	ReadPerSecond  float64
	ReadBurst      int
	WritePerSecond float64
	WriteBurst     int
}

// NewDefaultLimiter creates a limiter with the gateway read and write limits.
// Zero values fall back to conservative defaults.
func NewDefaultLimiter(r Rates) *MultiLimiter {
	if r.ReadPerSecond <= 0 {
		r.ReadPerSecond = 2
	}
	if r.ReadBurst <= 0 {
		r.ReadBurst = 5
	}
	// Writes are paced well below reads; LinkedIn flags bursts of outbound messages.
	if r.WritePerSecond <= 0 {
		r.WritePerSecond = 0.2
	}
	if r.WriteBurst <= 0 {
		r.WriteBurst = 2
	}

	m := NewMultiLimiter()
	m.AddLimiter(LimiterGatewayRead, r.ReadPerSecond, r.ReadBurst)
	m.AddLimiter(LimiterGatewayWrite, r.WritePerSecond, r.WriteBurst)
	return m
}
