package learning

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const probeTimeout = 5 * time.Second

// HealthChecker caches whether the primary store is reachable. The probe
// runs at most once per interval; MarkUnhealthy flips the cached answer
// without resetting the interval.
type HealthChecker struct {
	probe    func(ctx context.Context) error
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	checked   bool
	healthy   bool
	checkedAt time.Time
	lastErr   error
}

// NewHealthChecker creates a checker with the wall clock.
func NewHealthChecker(probe func(ctx context.Context) error, interval time.Duration) *HealthChecker {
	return NewHealthCheckerWithClock(probe, realClock{}, interval)
}

// NewHealthCheckerWithClock creates a checker with a custom clock (for testing).
func NewHealthCheckerWithClock(probe func(ctx context.Context) error, clock Clock, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &HealthChecker{
		probe:    probe,
		clock:    clock,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Healthy reports whether the primary store should be used, probing it if
// the cached answer is older than the interval.
func (h *HealthChecker) Healthy(ctx context.Context) bool {
	h.mu.RLock()
	if h.fresh() {
		ok := h.healthy
		h.mu.RUnlock()
		return ok
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	// Double-check after acquiring write lock.
	if h.fresh() {
		return h.healthy
	}
	h.check(ctx)
	return h.healthy
}

// Refresh probes immediately regardless of the cache.
func (h *HealthChecker) Refresh(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.check(ctx)
	return h.healthy
}

// MarkUnhealthy records a failed primary operation.
func (h *HealthChecker) MarkUnhealthy(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = false
	h.lastErr = err
	if !h.checked {
		h.checked = true
		h.checkedAt = h.clock.Now()
	}
}

// HealthStatus is a snapshot of the cached health state.
type HealthStatus struct {
	Checked   bool
	Healthy   bool
	CheckedAt time.Time
	LastError error
}

func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthStatus{
		Checked:   h.checked,
		Healthy:   h.healthy,
		CheckedAt: h.checkedAt,
		LastError: h.lastErr,
	}
}

// fresh must be called with h.mu held.
func (h *HealthChecker) fresh() bool {
	return h.checked && h.clock.Now().Sub(h.checkedAt) < h.interval
}

// check must be called with h.mu write-locked.
func (h *HealthChecker) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := h.probe(probeCtx)
	h.checked = true
	h.checkedAt = h.clock.Now()
	h.healthy = err == nil
	h.lastErr = err
	if err != nil {
		h.logger.Warn("primary store unreachable, using JSON fallback", "error", err)
	}
}
