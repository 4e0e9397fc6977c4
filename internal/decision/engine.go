// Package decision renders accept/reject verdicts from stored reports and a
// trust set. The engine is side-effect free: both the synchronous write
// gate and the background deletion sweep call the same Decide and get the
// same answer for the same store state.
package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/trust"
)

// Engine combines report-store queries with a policy to produce verdicts.
type Engine struct {
	store store.Store
}

// NewEngine creates a decision engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Decide evaluates the target against the policy. Category-specific
// thresholds are checked before the aggregate, in sorted category order, so
// a narrow severe category (threshold 1) can trigger even while the overall
// count is below the default threshold. Uncategorized reports count only
// toward the aggregate. A nil trusted snapshot means no trust restriction.
func (e *Engine) Decide(ctx context.Context, targetID string, targetKind int, pol *Policy, trusted *trust.Snapshot) (*Verdict, error) {
	if !pol.Monitors(targetKind) {
		return &Verdict{Threshold: pol.DefaultThreshold}, nil
	}

	filter := store.CountFilter{}
	if trusted != nil {
		filter.Trusted = trusted.MemberList()
		if filter.Trusted == nil {
			filter.Trusted = []string{}
		}
	}
	if pol.TimeWindow > 0 {
		filter.Since = time.Now().Add(-pol.TimeWindow)
	}

	counts, err := e.store.CountsByCategory(ctx, targetID, filter)
	if err != nil {
		return nil, fmt.Errorf("counting reports by category for %s: %w", targetID, err)
	}

	categories := make([]string, 0, len(counts))
	for category := range counts {
		if category == "" {
			continue
		}
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		count := counts[category]
		threshold := pol.ThresholdFor(category)
		if count >= threshold {
			return &Verdict{
				Reject:    true,
				Category:  category,
				Count:     count,
				Threshold: threshold,
			}, nil
		}
	}

	total, err := e.store.CountDistinctReporters(ctx, targetID, filter)
	if err != nil {
		return nil, fmt.Errorf("counting reports for %s: %w", targetID, err)
	}
	if total >= pol.DefaultThreshold {
		return &Verdict{
			Reject:    true,
			Count:     total,
			Threshold: pol.DefaultThreshold,
		}, nil
	}

	return &Verdict{Count: total, Threshold: pol.DefaultThreshold}, nil
}
