package store

import (
	"context"
	"time"

	"github.com/thelookup/relay-moderator/internal/model"
)

// CountFilter restricts which reports a count query considers. A zero-value
// filter means no restriction on any axis.
type CountFilter struct {
	// Trusted limits counts to reports filed by these reporter pubkeys.
	// Nil means no trust restriction; an empty non-nil slice matches nothing.
	Trusted []string
	// Since excludes reports submitted before this time. Zero means no
	// time restriction.
	Since time.Time
	// Category limits counts to one report category. Nil means all
	// categories; a pointer to "" matches only uncategorized reports.
	Category *string
}

// Store defines the persistence interface for the moderation engine.
type Store interface {
	// Reports
	AddReport(ctx context.Context, report *model.Report) (inserted bool, err error)
	HasReport(ctx context.Context, reportID string) (bool, error)
	CountDistinctReporters(ctx context.Context, targetID string, f CountFilter) (int, error)
	CountsByCategory(ctx context.Context, targetID string, f CountFilter) (map[string]int, error)
	ListReportedTargets(ctx context.Context, since time.Time) ([]ReportedTarget, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Trust cache
	ReplaceTrustCache(ctx context.Context, members []string) error
	ReadTrustCache(ctx context.Context) (members []string, lastUpdated time.Time, err error)

	// Moderation actions
	RecordAction(ctx context.Context, action *model.ModerationAction) error
	ListActionsByTarget(ctx context.Context, targetID string) ([]*model.ModerationAction, error)
	HasDeletion(ctx context.Context, targetID string) (bool, error)

	Stats(ctx context.Context) (*model.StoreStats, error)
}

// ReportedTarget is one row of the sweep worklist: a target with at least
// one report in the queried window, and the best-known kind for it.
type ReportedTarget struct {
	TargetID   string
	TargetKind int
}
