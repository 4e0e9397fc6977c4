package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const publishTimeout = 10 * time.Second

// Publisher broadcasts deletion events (kind 5 tombstones) to a set of
// relays. Publication is best-effort: per-relay failures are logged and
// only a total failure is surfaced.
type Publisher struct {
	urls      []string
	secretKey string
	logger    *slog.Logger
}

// NewPublisher creates a publisher signing with the given secret key.
func NewPublisher(urls []string, secretKey string, logger *slog.Logger) *Publisher {
	return &Publisher{urls: urls, secretKey: secretKey, logger: logger}
}

// PublishTombstone signs and broadcasts a deletion event naming the target
// with a human-readable reason. It errors only if no relay accepted it.
func (p *Publisher) PublishTombstone(ctx context.Context, targetID, reason string) error {
	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindDeletion,
		Tags:      nostr.Tags{{"e", targetID}},
		Content:   reason,
	}
	if err := ev.Sign(p.secretKey); err != nil {
		return fmt.Errorf("signing tombstone for %s: %w", targetID, err)
	}

	published := 0
	for _, url := range p.urls {
		if err := p.publishTo(ctx, url, ev); err != nil {
			p.logger.Warn("tombstone publish failed", "relay", url, "target", targetID, "error", err)
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("tombstone for %s accepted by no relay", targetID)
	}
	p.logger.Info("tombstone published", "target", targetID, "relays", published)
	return nil
}

func (p *Publisher) publishTo(ctx context.Context, url string, ev nostr.Event) error {
	tctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	conn, err := nostr.RelayConnect(tctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Publish(tctx, ev)
}
