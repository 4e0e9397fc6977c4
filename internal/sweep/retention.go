package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/thelookup/relay-moderator/internal/store"
)

// Retention purges reports old enough that no decision window can see
// them. Reports are kept for a multiple of the decision time window so the
// window boundary never races the purge.
type Retention struct {
	store    store.Store
	keep     time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewRetention creates a retention job keeping reports for the given
// duration, checking at the given interval.
func NewRetention(s store.Store, keep, interval time.Duration, logger *slog.Logger) *Retention {
	return &Retention{store: s, keep: keep, interval: interval, logger: logger}
}

// Run purges on a fixed cadence until the context is cancelled.
func (r *Retention) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention sweep shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.purge(ctx)
		}
	}
}

func (r *Retention) purge(ctx context.Context) {
	cutoff := time.Now().Add(-r.keep)
	removed, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("purging old reports failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("purged old reports", "removed", removed)
	}
}
