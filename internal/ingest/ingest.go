// Package ingest normalizes incoming report events into report-store rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/thelookup/relay-moderator/internal/model"
	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/trust"
)

// DefaultSeenSize bounds the in-memory seen-set. The set is an optimization
// only: correctness comes from the store's uniqueness constraint, so
// eviction or a restart costs a duplicate-store lookup, nothing more.
const DefaultSeenSize = 16384

// Result classifies the outcome of ingesting one event.
type Result string

const (
	ResultStored    Result = "stored"
	ResultDuplicate Result = "duplicate"
	ResultNoTarget  Result = "no_target"
	ResultWrongKind Result = "wrong_kind"
	ResultUntrusted Result = "untrusted"
)

// Ingestor deduplicates and stores report events.
type Ingestor struct {
	store  store.Store
	seen   *lru.Cache[string, struct{}]
	logger *slog.Logger

	// trusted, when set, restricts ingestion to reporters in the current
	// trust set. When nil, trust filtering is deferred to decision time.
	trusted func() *trust.Snapshot

	// OnStored, when set, is called after each newly stored report, letting
	// the daemon evaluate the target immediately instead of waiting for the
	// next sweep pass.
	OnStored func(ctx context.Context, report *model.Report)
}

// NewIngestor creates an ingestor with a seen-set of the given capacity
// (DefaultSeenSize if n <= 0).
func NewIngestor(s store.Store, n int, logger *slog.Logger) (*Ingestor, error) {
	if n <= 0 {
		n = DefaultSeenSize
	}
	seen, err := lru.New[string, struct{}](n)
	if err != nil {
		return nil, fmt.Errorf("creating seen-set: %w", err)
	}
	return &Ingestor{store: s, seen: seen, logger: logger}, nil
}

// RequireTrusted makes ingestion drop reports from identities outside the
// snapshot returned by current. A nil snapshot at call time admits all
// reporters (the trust set may not be built yet at startup).
func (ing *Ingestor) RequireTrusted(current func() *trust.Snapshot) {
	ing.trusted = current
}

// Ingest normalizes one report event and stores it. Malformed events are
// dropped without a store mutation; duplicates are a no-op, not an error.
func (ing *Ingestor) Ingest(ctx context.Context, ev *nostr.Event) (Result, error) {
	result, err := ing.ingest(ctx, ev)
	ingestEventCount.WithLabelValues(string(result)).Inc()
	return result, err
}

func (ing *Ingestor) ingest(ctx context.Context, ev *nostr.Event) (Result, error) {
	if ev.Kind != nostr.KindReporting {
		return ResultWrongKind, nil
	}

	if _, ok := ing.seen.Get(ev.ID); ok {
		return ResultDuplicate, nil
	}

	report, ok := ParseReport(ev)
	if !ok {
		ing.logger.Debug("report carries no target reference, skipping", "report_id", ev.ID)
		return ResultNoTarget, nil
	}

	if ing.trusted != nil {
		if snap := ing.trusted(); snap != nil && !snap.Contains(report.ReporterID) {
			ing.logger.Debug("report from untrusted identity, skipping",
				"report_id", report.ReportID, "reporter", report.ReporterID)
			return ResultUntrusted, nil
		}
	}

	inserted, err := ing.store.AddReport(ctx, report)
	if err != nil {
		return ResultDuplicate, fmt.Errorf("storing report %s: %w", report.ReportID, err)
	}
	ing.seen.Add(report.ReportID, struct{}{})
	if !inserted {
		return ResultDuplicate, nil
	}

	ing.logger.Info("new moderation report",
		"report_id", report.ReportID,
		"reporter", report.ReporterID,
		"target", report.TargetID,
		"category", report.Category,
	)

	if ing.OnStored != nil {
		ing.OnStored(ctx, report)
	}
	return ResultStored, nil
}

// ParseReport extracts a report record from a report event. The first "e"
// tag names the reported event; per NIP-56 the report type may follow as a
// later positional field on that same tag. It returns ok=false when the
// event references no target.
func ParseReport(ev *nostr.Event) (*model.Report, bool) {
	var targetID, category string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			targetID = tag[1]
			if len(tag) >= 4 {
				category = tag[3]
			}
			break
		}
	}
	if targetID == "" {
		return nil, false
	}

	return &model.Report{
		ReportID:    ev.ID,
		TargetID:    targetID,
		TargetKind:  model.KindUnknown, // reports do not state the target's kind
		ReporterID:  ev.PubKey,
		Category:    category,
		Detail:      ev.Content,
		SubmittedAt: ev.CreatedAt.Time(),
		ReceivedAt:  time.Now().UTC(),
	}, true
}
