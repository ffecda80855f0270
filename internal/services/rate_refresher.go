package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateRefresherConfig holds configuration for the rate refresher.
type RateRefresherConfig struct {
	// Interval is how often latest rates are reloaded (default: 5m)
	Interval time.Duration
	// Timeout bounds a single reload (default: 10s)
	Timeout time.Duration
}

func DefaultRateRefresherConfig() RateRefresherConfig {
	return RateRefresherConfig{
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// RatePrimer loads rates into a cache.
type RatePrimer interface {
	Prime(ctx context.Context) (int, error)
}

// RateRefresher keeps the exchange-rate cache warm so balance requests
// rarely reach the database for rates.
type RateRefresher struct {
	primer RatePrimer
	config RateRefresherConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRateRefresher(primer RatePrimer, config RateRefresherConfig) *RateRefresher {
	return &RateRefresher{primer: primer, config: config}
}

// Start begins the refresh loop. Returns an error if already running.
func (r *RateRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("rate refresher is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Rate refresher started", "interval", r.config.Interval)
	return nil
}

// Stop signals the loop and waits for it or for ctx.
func (r *RateRefresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Rate refresher stopped")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Rate refresher stop timed out")
		return ctx.Err()
	}
}

func (r *RateRefresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RateRefresher) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RateRefresher) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	n, err := r.primer.Prime(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to refresh exchange rates", "error", err)
		return
	}
	slog.DebugContext(ctx, "Exchange rates refreshed", "count", n)
}
