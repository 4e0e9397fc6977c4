package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/thelookup/relay-moderator/internal/model"
	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/trust"
)

func newTestIngestor(t *testing.T) (*Ingestor, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing, err := NewIngestor(s, 64, logger)
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return ing, s
}

func reportEvent(id, reporter, target, category string) *nostr.Event {
	tag := nostr.Tag{"e", target}
	if category != "" {
		tag = nostr.Tag{"e", target, "", category}
	}
	return &nostr.Event{
		ID:        id,
		PubKey:    reporter,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindReporting,
		Tags:      nostr.Tags{tag},
		Content:   "reported for " + category,
	}
}

func TestIngest_StoresReport(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()

	result, err := ing.Ingest(ctx, reportEvent("rep-1", "alice", "ev-1", "spam"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result != ResultStored {
		t.Fatalf("result = %q, want %q", result, ResultStored)
	}

	ok, err := s.HasReport(ctx, "rep-1")
	if err != nil {
		t.Fatalf("HasReport: %v", err)
	}
	if !ok {
		t.Error("report not found in store after ingest")
	}

	counts, err := s.CountsByCategory(ctx, "ev-1", store.CountFilter{})
	if err != nil {
		t.Fatalf("CountsByCategory: %v", err)
	}
	if counts["spam"] != 1 {
		t.Errorf("counts[spam] = %d, want 1", counts["spam"])
	}
}

func TestIngest_Duplicate(t *testing.T) {
	ing, s := newTestIngestor(t)
	ctx := context.Background()
	ev := reportEvent("rep-1", "alice", "ev-1", "")

	if result, err := ing.Ingest(ctx, ev); err != nil || result != ResultStored {
		t.Fatalf("first Ingest = %q, %v", result, err)
	}

	// Second delivery is caught by the seen-set.
	result, err := ing.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("Ingest duplicate: %v", err)
	}
	if result != ResultDuplicate {
		t.Errorf("result = %q, want %q", result, ResultDuplicate)
	}

	// A fresh ingestor has an empty seen-set; the store still rejects it.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fresh, err := NewIngestor(s, 64, logger)
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	result, err = fresh.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("Ingest after restart: %v", err)
	}
	if result != ResultDuplicate {
		t.Errorf("result = %q, want %q", result, ResultDuplicate)
	}
}

func TestIngest_WrongKind(t *testing.T) {
	ing, _ := newTestIngestor(t)

	ev := reportEvent("rep-1", "alice", "ev-1", "")
	ev.Kind = nostr.KindTextNote

	result, err := ing.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result != ResultWrongKind {
		t.Errorf("result = %q, want %q", result, ResultWrongKind)
	}
}

func TestIngest_NoTarget(t *testing.T) {
	ing, _ := newTestIngestor(t)

	ev := &nostr.Event{
		ID:        "rep-1",
		PubKey:    "alice",
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindReporting,
		Tags:      nostr.Tags{{"p", "some-pubkey", "", "impersonation"}},
	}
	result, err := ing.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result != ResultNoTarget {
		t.Errorf("result = %q, want %q", result, ResultNoTarget)
	}
}

func TestIngest_RequireTrusted(t *testing.T) {
	ing, _ := newTestIngestor(t)
	ctx := context.Background()

	snap := &trust.Snapshot{
		Members:    map[string]bool{"alice": true},
		ComputedAt: time.Now(),
	}
	ing.RequireTrusted(func() *trust.Snapshot { return snap })

	result, err := ing.Ingest(ctx, reportEvent("rep-1", "alice", "ev-1", ""))
	if err != nil {
		t.Fatalf("Ingest trusted: %v", err)
	}
	if result != ResultStored {
		t.Errorf("trusted reporter: result = %q, want %q", result, ResultStored)
	}

	result, err = ing.Ingest(ctx, reportEvent("rep-2", "mallory", "ev-1", ""))
	if err != nil {
		t.Fatalf("Ingest untrusted: %v", err)
	}
	if result != ResultUntrusted {
		t.Errorf("untrusted reporter: result = %q, want %q", result, ResultUntrusted)
	}
}

func TestIngest_RequireTrustedNilSnapshot(t *testing.T) {
	ing, _ := newTestIngestor(t)

	// Before the first crawl completes there is nothing to filter against.
	ing.RequireTrusted(func() *trust.Snapshot { return nil })

	result, err := ing.Ingest(context.Background(), reportEvent("rep-1", "anyone", "ev-1", ""))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result != ResultStored {
		t.Errorf("result = %q, want %q", result, ResultStored)
	}
}

func TestIngest_OnStored(t *testing.T) {
	ing, _ := newTestIngestor(t)
	ctx := context.Background()

	var stored []*model.Report
	ing.OnStored = func(_ context.Context, report *model.Report) {
		stored = append(stored, report)
	}

	if _, err := ing.Ingest(ctx, reportEvent("rep-1", "alice", "ev-1", "spam")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := ing.Ingest(ctx, reportEvent("rep-1", "alice", "ev-1", "spam")); err != nil {
		t.Fatalf("Ingest duplicate: %v", err)
	}

	if len(stored) != 1 {
		t.Fatalf("OnStored called %d times, want 1", len(stored))
	}
	if stored[0].TargetID != "ev-1" || stored[0].ReporterID != "alice" {
		t.Errorf("OnStored report = %+v", stored[0])
	}
}

func TestParseReport(t *testing.T) {
	base := func(tags nostr.Tags) *nostr.Event {
		return &nostr.Event{
			ID:        "rep-1",
			PubKey:    "alice",
			CreatedAt: nostr.Now(),
			Kind:      nostr.KindReporting,
			Tags:      tags,
			Content:   "details",
		}
	}

	tests := []struct {
		name         string
		tags         nostr.Tags
		wantOK       bool
		wantTarget   string
		wantCategory string
	}{
		{
			name:         "target with category",
			tags:         nostr.Tags{{"e", "ev-1", "", "spam"}},
			wantOK:       true,
			wantTarget:   "ev-1",
			wantCategory: "spam",
		},
		{
			name:       "target without category",
			tags:       nostr.Tags{{"e", "ev-1"}},
			wantOK:     true,
			wantTarget: "ev-1",
		},
		{
			name:         "first e tag wins",
			tags:         nostr.Tags{{"e", "ev-1", "", "spam"}, {"e", "ev-2", "", "illegal"}},
			wantOK:       true,
			wantTarget:   "ev-1",
			wantCategory: "spam",
		},
		{
			name:         "p tags ignored",
			tags:         nostr.Tags{{"p", "some-pubkey", "", "nudity"}, {"e", "ev-1", "", "nudity"}},
			wantOK:       true,
			wantTarget:   "ev-1",
			wantCategory: "nudity",
		},
		{
			name:   "no e tag",
			tags:   nostr.Tags{{"p", "some-pubkey"}},
			wantOK: false,
		},
		{
			name:   "empty tags",
			tags:   nostr.Tags{},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, ok := ParseReport(base(tt.tags))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if report.TargetID != tt.wantTarget {
				t.Errorf("TargetID = %q, want %q", report.TargetID, tt.wantTarget)
			}
			if report.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", report.Category, tt.wantCategory)
			}
			if report.TargetKind != model.KindUnknown {
				t.Errorf("TargetKind = %d, want KindUnknown", report.TargetKind)
			}
			if report.ReporterID != "alice" {
				t.Errorf("ReporterID = %q, want alice", report.ReporterID)
			}
			if report.Detail != "details" {
				t.Errorf("Detail = %q, want details", report.Detail)
			}
		})
	}
}
