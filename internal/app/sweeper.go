/**
 * @description
 * This file contains the background release sweeper. Release is time-driven
 * and decoupled from any caller session: the sweeper runs the release sweep on
 * a fixed interval until its context is cancelled. The sweep itself is a
 * guarded compare-and-set, so overlapping runs (another replica, an admin
 * triggering a sweep by hand) can never double-process a transaction; the
 * optional Redis lock only avoids redundant work across replicas.
 */

package app

import (
	"context"
	"log"
	"time"
)

// SweepCoordinator gates sweep ticks across service replicas. Implementations
// must be best-effort: returning true on error keeps the sweep running.
type SweepCoordinator interface {
	TryAcquire(ctx context.Context, ttl time.Duration) bool
}

// Sweeper periodically promotes due pending transactions to 'released'.
type Sweeper struct {
	service     *Service
	interval    time.Duration
	coordinator SweepCoordinator
}

// NewSweeper creates a sweeper for the given service. A nil coordinator means
// every tick runs unconditionally.
func NewSweeper(service *Service, interval time.Duration, coordinator SweepCoordinator) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, coordinator: coordinator}
}

// Run blocks, sweeping on every tick until ctx is cancelled. An initial sweep
// runs immediately so restarts do not delay overdue releases by one interval.
func (w *Sweeper) Run(ctx context.Context) {
	log.Printf("level=info component=sweeper msg=\"release sweeper started\" interval=%s", w.interval)
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("level=info component=sweeper msg=\"release sweeper stopped\"")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Sweeper) tick(ctx context.Context) {
	if w.coordinator != nil && !w.coordinator.TryAcquire(ctx, w.interval) {
		return
	}
	if _, err := w.service.RunReleaseSweep(ctx); err != nil {
		log.Printf("level=error component=sweeper msg=\"release sweep failed\" err=%v", err)
	}
}
