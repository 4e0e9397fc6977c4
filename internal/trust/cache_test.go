package trust

import (
	"context"
	"testing"
	"time"
)

func newTestCache(fetcher *mapFetcher, ttl time.Duration) *Cache {
	b := NewBuilder(fetcher, testLogger())
	return NewCache(b, "root", 2, 100, ttl)
}

func TestCache_FreshSnapshotReused(t *testing.T) {
	fetcher := &mapFetcher{follows: map[string][]string{"root": {"a"}}}
	c := newTestCache(fetcher, time.Hour)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, false)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	callsAfterBuild := fetcher.callCount()

	second, err := c.GetOrRefresh(ctx, false)
	if err != nil {
		t.Fatalf("GetOrRefresh second: %v", err)
	}
	if second != first {
		t.Error("fresh snapshot was rebuilt, want the identical snapshot back")
	}
	if got := fetcher.callCount(); got != callsAfterBuild {
		t.Errorf("fetch calls = %d, want %d (fresh cache must not hit the fetcher)", got, callsAfterBuild)
	}
	if c.Current() != first {
		t.Error("Current() does not return the cached snapshot")
	}
}

func TestCache_ForceRefresh(t *testing.T) {
	fetcher := &mapFetcher{follows: map[string][]string{"root": {"a"}}}
	c := newTestCache(fetcher, time.Hour)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, false)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	second, err := c.GetOrRefresh(ctx, true)
	if err != nil {
		t.Fatalf("GetOrRefresh force: %v", err)
	}
	if second == first {
		t.Error("force refresh returned the old snapshot")
	}
	wantMembers(t, second, "root", "a")
}

func TestCache_ExpiredSnapshotRebuilt(t *testing.T) {
	fetcher := &mapFetcher{follows: map[string][]string{"root": {"a"}}}
	c := newTestCache(fetcher, time.Nanosecond)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, false)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	time.Sleep(time.Millisecond)

	second, err := c.GetOrRefresh(ctx, false)
	if err != nil {
		t.Fatalf("GetOrRefresh after expiry: %v", err)
	}
	if second == first {
		t.Error("expired snapshot was reused")
	}
}

func TestCache_Prime(t *testing.T) {
	fetcher := &mapFetcher{follows: map[string][]string{"root": {"a"}}}
	c := newTestCache(fetcher, time.Hour)

	if c.Current() != nil {
		t.Fatal("Current() before prime is non-nil")
	}

	restored := &Snapshot{
		Members:    map[string]bool{"root": true, "x": true},
		Root:       "root",
		Depth:      2,
		ComputedAt: time.Now(),
	}
	c.Prime(restored)

	if c.Current() != restored {
		t.Error("Current() does not return the primed snapshot")
	}

	// A fresh primed snapshot satisfies GetOrRefresh without a crawl.
	snap, err := c.GetOrRefresh(context.Background(), false)
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if snap != restored {
		t.Error("primed snapshot was rebuilt despite being fresh")
	}
	if fetcher.callCount() != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.callCount())
	}
}
