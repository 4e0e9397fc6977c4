package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second
)

// Subscriber maintains a persistent subscription to report events on one
// relay, dispatching each event to a handler. Disconnects are retried with
// backoff; the loop only returns when the context is cancelled.
type Subscriber struct {
	url     string
	handler func(ctx context.Context, ev *nostr.Event)
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber for report events on the given relay.
func NewSubscriber(url string, handler func(ctx context.Context, ev *nostr.Event), logger *slog.Logger) *Subscriber {
	return &Subscriber{url: url, handler: handler, logger: logger}
}

// Run subscribes and dispatches until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			s.logger.Info("report subscriber shutting down")
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("report subscription lost, reconnecting",
				"relay", s.url, "backoff", backoff, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// consume runs one connect/subscribe/dispatch cycle. It returns when the
// subscription closes or the context is cancelled.
func (s *Subscriber) consume(ctx context.Context) error {
	conn, err := nostr.RelayConnect(ctx, s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, err := conn.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{nostr.KindReporting},
	}})
	if err != nil {
		return err
	}
	defer sub.Unsub()

	s.logger.Info("subscribed to report events", "relay", s.url)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if ev == nil {
				continue
			}
			s.handler(ctx, ev)
		}
	}
}
