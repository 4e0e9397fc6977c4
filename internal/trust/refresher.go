package trust

import (
	"context"
	"log/slog"
	"time"

	"github.com/thelookup/relay-moderator/internal/store"
)

// Refresher keeps the trust cache fresh on a fixed cadence and mirrors each
// new snapshot into the durable trust cache so the write-policy gate and
// future restarts can read it.
type Refresher struct {
	cache    *Cache
	store    store.Store
	interval time.Duration
	logger   *slog.Logger

	lastMirrored *Snapshot
}

// NewRefresher creates a refresher ticking at the given interval. A
// snapshot already in the cache at this point came out of the durable
// cache (via Prime), so it counts as mirrored; re-writing it would stamp
// old crawl data with a fresh last_updated.
func NewRefresher(cache *Cache, s store.Store, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		cache:        cache,
		store:        s,
		interval:     interval,
		logger:       logger,
		lastMirrored: cache.Current(),
	}
}

// Run ticks until the context is cancelled. It refreshes once immediately
// on start.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("trust refresher shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	snap, err := r.cache.GetOrRefresh(ctx, false)
	if err != nil {
		trustRefreshCount.WithLabelValues("error").Inc()
		r.logger.Error("trust set refresh failed", "error", err)
		return
	}
	trustRefreshCount.WithLabelValues("ok").Inc()
	trustSetSize.Set(float64(snap.Len()))

	// Only mirror snapshots we have not written yet, so the persisted
	// last_updated reflects actual crawls rather than ticker passes.
	if snap == r.lastMirrored {
		return
	}
	if err := r.store.ReplaceTrustCache(ctx, snap.MemberList()); err != nil {
		r.logger.Error("persisting trust cache failed", "error", err)
		return
	}
	r.lastMirrored = snap
	r.logger.Info("trust cache persisted", "members", snap.Len())
}
