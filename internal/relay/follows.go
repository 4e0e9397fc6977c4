// Package relay holds the go-nostr collaborators: follow-list fetching,
// the report event subscription, and tombstone publication.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// FollowSource fetches follow lists (kind 3 contact lists) from a set of
// relays. It implements trust.FollowFetcher. Connections are opened lazily
// and dropped on error so the next call reconnects.
type FollowSource struct {
	urls   []string
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*nostr.Relay
}

// NewFollowSource creates a follow source over the given relay URLs.
func NewFollowSource(urls []string, logger *slog.Logger) *FollowSource {
	return &FollowSource{
		urls:   urls,
		logger: logger,
		conns:  make(map[string]*nostr.Relay),
	}
}

// Follows returns the pubkeys the given identity follows, taken from the
// newest contact list any configured relay knows about. An identity with no
// published contact list yields no follows, which is not an error.
func (f *FollowSource) Follows(ctx context.Context, pubkey string) ([]string, error) {
	filter := nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindFollowList},
		Limit:   1,
	}

	var newest *nostr.Event
	var lastErr error
	queried := 0

	for _, url := range f.urls {
		conn, err := f.connect(ctx, url)
		if err != nil {
			lastErr = err
			f.logger.Warn("relay connect failed", "relay", url, "error", err)
			continue
		}
		events, err := conn.QuerySync(ctx, filter)
		if err != nil {
			lastErr = err
			f.drop(url)
			f.logger.Warn("contact list query failed", "relay", url, "pubkey", pubkey, "error", err)
			continue
		}
		queried++
		for _, ev := range events {
			if newest == nil || ev.CreatedAt > newest.CreatedAt {
				newest = ev
			}
		}
	}

	if queried == 0 {
		return nil, fmt.Errorf("no relay reachable for follow lookup: %w", lastErr)
	}
	if newest == nil {
		return nil, nil
	}

	var follows []string
	for _, tag := range newest.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			follows = append(follows, tag[1])
		}
	}
	return follows, nil
}

// Close closes all open relay connections.
func (f *FollowSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, conn := range f.conns {
		conn.Close()
		delete(f.conns, url)
	}
}

func (f *FollowSource) connect(ctx context.Context, url string) (*nostr.Relay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[url]; ok {
		return conn, nil
	}
	conn, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	f.conns[url] = conn
	return conn, nil
}

func (f *FollowSource) drop(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[url]; ok {
		conn.Close()
		delete(f.conns, url)
	}
}
