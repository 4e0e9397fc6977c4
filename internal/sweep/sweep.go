// Package sweep runs the background removal pass and the retention purge.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thelookup/relay-moderator/internal/decision"
	"github.com/thelookup/relay-moderator/internal/model"
	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/trust"
)

// Deleter removes a piece of content from the relay's store by id.
type Deleter interface {
	Delete(ctx context.Context, targetID string) error
}

// TombstonePublisher broadcasts a retraction for removed content.
type TombstonePublisher interface {
	PublishTombstone(ctx context.Context, targetID, reason string) error
}

// Sweeper periodically re-evaluates every reported target against the
// decision engine and removes content whose report count crossed a
// threshold. The ingest path calls EvaluateTarget directly so a report
// that tips a target over does not wait for the next tick.
type Sweeper struct {
	store     store.Store
	engine    *decision.Engine
	policy    *decision.Policy
	trusted   func() *trust.Snapshot
	deleter   Deleter            // nil disables automatic removal
	publisher TombstonePublisher // nil disables tombstones
	interval  time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. trusted supplies the current trust
// snapshot per evaluation (it may return nil before the first build).
func NewSweeper(
	s store.Store,
	engine *decision.Engine,
	policy *decision.Policy,
	trusted func() *trust.Snapshot,
	deleter Deleter,
	publisher TombstonePublisher,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		store:     s,
		engine:    engine,
		policy:    policy,
		trusted:   trusted,
		deleter:   deleter,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on a fixed cadence until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deletion sweep shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	since := time.Now().Add(-s.policy.TimeWindow)
	targets, err := s.store.ListReportedTargets(ctx, since)
	if err != nil {
		s.logger.Error("listing reported targets", "error", err)
		return
	}

	removals := 0
	for _, t := range targets {
		removed, err := s.EvaluateTarget(ctx, t.TargetID, t.TargetKind, model.TriggerSweep)
		if err != nil {
			s.logger.Error("evaluating target", "target", t.TargetID, "error", err)
			continue
		}
		if removed {
			removals++
		}
	}

	s.logger.Info("sweep complete", "targets_checked", len(targets), "removals", removals)
}

// EvaluateTarget runs one target through the decision engine and, on a
// reject verdict, removes the content and publishes a tombstone. It
// reports whether a removal happened. Targets with a successful deletion
// already on file are skipped. Executor failures are recorded and logged
// but leave the target a candidate for the next pass.
func (s *Sweeper) EvaluateTarget(ctx context.Context, targetID string, targetKind int, trigger model.ActionTrigger) (bool, error) {
	done, err := s.store.HasDeletion(ctx, targetID)
	if err != nil {
		return false, fmt.Errorf("checking prior deletions for %s: %w", targetID, err)
	}
	if done {
		return false, nil
	}

	var snap *trust.Snapshot
	if s.trusted != nil {
		snap = s.trusted()
	}

	verdict, err := s.engine.Decide(ctx, targetID, targetKind, s.policy, snap)
	if err != nil {
		return false, err
	}
	if !verdict.Reject {
		sweepVerdictCount.WithLabelValues("accept").Inc()
		return false, nil
	}
	sweepVerdictCount.WithLabelValues("reject").Inc()

	s.logger.Warn("removal threshold reached",
		"target", targetID,
		"count", verdict.Count,
		"threshold", verdict.Threshold,
		"category", verdict.Category,
		"trigger", string(trigger),
	)

	action := &model.ModerationAction{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		Trigger:   trigger,
		Category:  verdict.Category,
		Count:     verdict.Count,
		Threshold: verdict.Threshold,
		CreatedAt: time.Now().UTC(),
	}

	if s.deleter == nil {
		action.Error = "automatic removal disabled"
		s.logger.Info("automatic removal disabled, manual action required", "target", targetID)
	} else if err := s.deleter.Delete(ctx, targetID); err != nil {
		action.Error = err.Error()
		sweepActionCount.WithLabelValues("delete_failed").Inc()
		s.logger.Error("removing content failed", "target", targetID, "error", err)
	} else {
		action.Deleted = true
		sweepActionCount.WithLabelValues("deleted").Inc()

		if s.publisher != nil {
			reason := tombstoneReason(verdict)
			if err := s.publisher.PublishTombstone(ctx, targetID, reason); err != nil {
				sweepActionCount.WithLabelValues("tombstone_failed").Inc()
				s.logger.Error("publishing tombstone failed", "target", targetID, "error", err)
			} else {
				action.TombstonePublished = true
			}
		}
	}

	if err := s.store.RecordAction(ctx, action); err != nil {
		return action.Deleted, fmt.Errorf("recording action for %s: %w", targetID, err)
	}
	return action.Deleted, nil
}

func tombstoneReason(v *decision.Verdict) string {
	category := v.Category
	if category == "" {
		category = "various reasons"
	}
	return fmt.Sprintf("Reported %d times: %s", v.Count, category)
}
