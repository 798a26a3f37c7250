// Package ratelimit provides per-provider token buckets with a cooldown
// window that opens when an upstream answers 429.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Minute
)

// Limiter wraps rate.Limiter with a 429 cooldown
type Limiter struct {
	limiter     *rate.Limiter
	name        string
	mu          sync.Mutex
	backoff     time.Duration
	pausedUntil time.Time
}

// NewLimiter creates a limiter allowing perMinute requests per minute.
// Burst is a tenth of the minute budget, clamped to [1, 5].
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: initialBackoff,
	}
}

// Wait blocks until the cooldown has passed and a token is available
func (l *Limiter) Wait(ctx context.Context) error {
	if pause := l.cooldown(); pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now
func (l *Limiter) Allow() bool {
	if l.cooldown() > 0 {
		return false
	}
	return l.limiter.Allow()
}

// SignalRateLimited opens a cooldown window and doubles the next one
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.backoff *= 2
	if l.backoff > maxBackoff {
		l.backoff = maxBackoff
	}
	l.pausedUntil = time.Now().Add(l.backoff)
}

// ResetBackoff is called after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = initialBackoff
	l.pausedUntil = time.Time{}
}

// GetBackoff returns the current backoff duration
func (l *Limiter) GetBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}

func (l *Limiter) cooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pausedUntil.IsZero() {
		return 0
	}
	return time.Until(l.pausedUntil)
}

// MultiLimiter holds one limiter per upstream API
type MultiLimiter struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates an empty set
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*Limiter),
	}
}

// Add registers a limiter, replacing any previous one of the same name
func (m *MultiLimiter) Add(name string, perMinute int) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := NewLimiter(name, perMinute)
	m.limiters[name] = l
	return l
}

// Get returns a limiter by name
func (m *MultiLimiter) Get(name string) *Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[name]
}

// GetOrAdd returns the named limiter, creating it on first use
func (m *MultiLimiter) GetOrAdd(name string, perMinute int) *Limiter {
	if l := m.Get(name); l != nil {
		return l
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[name]; ok {
		return l
	}
	l := NewLimiter(name, perMinute)
	m.limiters[name] = l
	return l
}

// Wait waits on the named limiter; unknown names pass immediately
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	limiter := m.Get(name)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
