// Package watchdog periodically times out routes stuck in_progress past
// the investigation timeout, per spec.md §4.8.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/metrics"
)

// RouteTimeouter transitions every stale in_progress route to timeout.
type RouteTimeouter interface {
	TimeoutStale(ctx context.Context, olderThanSeconds int) ([]uuid.UUID, error)
}

// StaleWatchdog is a ticker-driven sweep over stuck routes.
type StaleWatchdog struct {
	routes        RouteTimeouter
	period        time.Duration
	staleAfterSec int
	metrics       *metrics.Pipeline
}

// New creates a StaleWatchdog. staleAfter is how long a route may sit
// in_progress before the sweep considers it stuck.
func New(routes RouteTimeouter, period, staleAfter time.Duration, m *metrics.Pipeline) *StaleWatchdog {
	return &StaleWatchdog{
		routes:        routes,
		period:        period,
		staleAfterSec: int(staleAfter.Seconds()),
		metrics:       m,
	}
}

// Run blocks, sweeping every period until ctx is cancelled.
func (w *StaleWatchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *StaleWatchdog) sweep(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.WatchdogTimeoutsTotal.Inc()
	}

	timedOut, err := w.routes.TimeoutStale(ctx, w.staleAfterSec)
	if err != nil {
		slog.Error("watchdog sweep failed", "error", err)
		return
	}

	if len(timedOut) == 0 {
		return
	}

	if w.metrics != nil {
		for range timedOut {
			w.metrics.InvestigationsTimedOut.Inc()
		}
	}
	slog.Info("watchdog timed out stale routes", "count", len(timedOut), "route_ids", timedOut)
}
