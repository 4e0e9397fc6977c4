package trust

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds how many follow-list fetches are in flight at
// once. Relays throttle aggressive clients, so the crawl goes level by
// level in small concurrent batches rather than unbounded fan-out.
const DefaultBatchSize = 10

// DefaultFetchTimeout is the upper bound on waiting for one identity's
// follow list. A fetch that exceeds it counts as "no edges" for that
// identity only.
const DefaultFetchTimeout = 10 * time.Second

// FollowFetcher returns the set of pubkeys an identity follows.
type FollowFetcher interface {
	Follows(ctx context.Context, pubkey string) ([]string, error)
}

// Snapshot is one computed trust set: the bounded closure of identities
// reachable from Root via follow edges. Snapshots are immutable once built.
type Snapshot struct {
	Members    map[string]bool
	Root       string
	Depth      int
	ComputedAt time.Time
}

// Contains reports whether pubkey is in the trust set.
func (s *Snapshot) Contains(pubkey string) bool {
	return s != nil && s.Members[pubkey]
}

// Len returns the number of members.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Members)
}

// MemberList returns the members in sorted order.
func (s *Snapshot) MemberList() []string {
	if s == nil {
		return nil
	}
	members := make([]string, 0, len(s.Members))
	for pk := range s.Members {
		members = append(members, pk)
	}
	sort.Strings(members)
	return members
}

// Builder computes trust sets by breadth-first expansion over a follow
// relation.
type Builder struct {
	fetcher FollowFetcher
	logger  *slog.Logger

	// BatchSize and FetchTimeout default to the package constants.
	BatchSize    int
	FetchTimeout time.Duration
}

// NewBuilder creates a Builder over the given follow source.
func NewBuilder(fetcher FollowFetcher, logger *slog.Logger) *Builder {
	return &Builder{
		fetcher:      fetcher,
		logger:       logger,
		BatchSize:    DefaultBatchSize,
		FetchTimeout: DefaultFetchTimeout,
	}
}

// Build crawls the follow graph from root, bounded by depth and maxMembers.
// The root is always a member. Fetch failures count as zero edges for that
// identity; the crawl only aborts if ctx is cancelled. When maxMembers is
// reached the in-flight batch is finished and the traversal stops, with
// candidates admitted in sorted order so truncation is deterministic.
func (b *Builder) Build(ctx context.Context, root string, depth, maxMembers int) (*Snapshot, error) {
	snap := &Snapshot{
		Members:    map[string]bool{root: true},
		Root:       root,
		Depth:      depth,
		ComputedAt: time.Now().UTC(),
	}

	frontier := []string{root}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		b.logger.Info("expanding trust level",
			"level", level, "depth", depth, "frontier", len(frontier), "members", len(snap.Members))

		var next []string
		truncated := false

		for start := 0; start < len(frontier) && !truncated; start += b.BatchSize {
			end := start + b.BatchSize
			if end > len(frontier) {
				end = len(frontier)
			}
			batch := frontier[start:end]

			follows, err := b.fetchBatch(ctx, batch)
			if err != nil {
				return nil, err
			}

			// Admit new members in batch order, each follow list sorted,
			// so the same graph always truncates at the same identities.
			for _, pk := range batch {
				edges := follows[pk]
				sort.Strings(edges)
				for _, target := range edges {
					if snap.Members[target] {
						continue
					}
					if len(snap.Members) >= maxMembers {
						truncated = true
						break
					}
					snap.Members[target] = true
					next = append(next, target)
				}
				if truncated {
					break
				}
			}
		}

		if truncated {
			b.logger.Warn("trust set size limit reached",
				"max_members", maxMembers, "level", level)
			break
		}
		if len(next) == 0 {
			b.logger.Info("no new members found, trust set complete", "level", level)
			break
		}
		frontier = next
	}

	b.logger.Info("trust set built", "root", root, "members", len(snap.Members))
	return snap, nil
}

// fetchBatch fetches follow lists for one batch concurrently. A failed or
// timed-out fetch is logged and yields no edges for that identity.
func (b *Builder) fetchBatch(ctx context.Context, batch []string) (map[string][]string, error) {
	results := make(map[string][]string, len(batch))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.BatchSize)

	for _, pk := range batch {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, b.FetchTimeout)
			defer cancel()

			follows, err := b.fetcher.Follows(tctx, pk)
			if err != nil {
				b.logger.Warn("follow fetch failed, treating as no edges",
					"pubkey", pk, "error", err)
				return nil
			}
			mu.Lock()
			results[pk] = follows
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
