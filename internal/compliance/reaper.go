package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultGateTTL is how long an abandoned gate is kept.
const DefaultGateTTL = 15 * time.Minute

// Reaper periodically drops gates that were abandoned after finishing.
type Reaper struct {
	manager  *Manager
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewReaper creates a reaper for m.
func NewReaper(m *Manager, ttl time.Duration, logger *slog.Logger) *Reaper {
	if ttl <= 0 {
		ttl = DefaultGateTTL
	}
	return &Reaper{
		manager:  m,
		ttl:      ttl,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the loop is active.
func (r *Reaper) Running() bool {
	return r.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep()
		}
	}
}

// Stop signals the loop to exit.
func (r *Reaper) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reaper) safeSweep() {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("panic in gate reaper", "panic", fmt.Sprint(v))
		}
	}()
	r.sweep()
}

func (r *Reaper) sweep() int {
	n := r.manager.expire(r.manager.clock.Now().Add(-r.ttl))
	if n > 0 {
		r.logger.Info("expired abandoned gates", "count", n)
	}
	return n
}
