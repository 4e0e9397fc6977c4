// Package gate implements the synchronous write-policy check: one JSON
// request per stdin line, one decision per stdout line. The gate fails
// open: any parse or internal error still yields exactly one accept line,
// so a broken moderation store never stalls or blocks writes upstream.
package gate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/thelookup/relay-moderator/internal/decision"
	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/trust"
)

const (
	// DefaultRequestTimeout bounds the store queries behind one decision,
	// so the request loop always answers in bounded time.
	DefaultRequestTimeout = 2 * time.Second
	// DefaultTrustReload is how often the durable trust cache is re-read.
	DefaultTrustReload = 5 * time.Minute

	maxLineSize = 1 << 20
)

// Request is one write-policy input line.
type Request struct {
	Type  string `json:"type"`
	Event struct {
		ID   string `json:"id"`
		Kind int    `json:"kind"`
	} `json:"event"`
}

// Response is one write-policy decision line.
type Response struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Msg    string `json:"msg,omitempty"`
}

// Gate reads requests line by line and answers each with a verdict from
// the decision engine, using the trust set persisted by the daemon.
type Gate struct {
	store  store.Store
	engine *decision.Engine
	policy *decision.Policy
	logger *slog.Logger

	RequestTimeout time.Duration
	TrustReload    time.Duration

	trusted     *trust.Snapshot
	trustLoaded time.Time
}

// New creates a gate over the given store and policy.
func New(s store.Store, policy *decision.Policy, logger *slog.Logger) *Gate {
	return &Gate{
		store:          s,
		engine:         decision.NewEngine(s),
		policy:         policy,
		logger:         logger,
		RequestTimeout: DefaultRequestTimeout,
		TrustReload:    DefaultTrustReload,
	}
}

// Run processes requests from in until EOF or context cancellation,
// writing one response line per input line to out. Oversized lines are
// answered with an accept and skipped; they must not end the loop.
func (g *Gate) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	g.reloadTrust(ctx)
	g.logger.Info("write-policy gate started",
		"threshold", g.policy.DefaultThreshold,
		"window", g.policy.TimeWindow,
		"trusted", g.trusted.Len(),
	)

	w := bufio.NewWriter(out)
	r := bufio.NewReaderSize(in, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, err := readLine(r)
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading request: %w", err)
		}

		if tooLong || len(line) > 0 {
			var resp Response
			if tooLong {
				g.logger.Error("request line exceeds size limit, accepting", "limit", maxLineSize)
				resp = Response{ID: "unknown", Action: "accept"}
			} else {
				resp = g.process(ctx, line)
			}
			data, merr := json.Marshal(resp)
			if merr != nil {
				// Response is a plain struct; this cannot realistically fail,
				// but the protocol demands a line either way.
				data = []byte(`{"id":"unknown","action":"accept"}`)
			}
			w.Write(data)
			w.WriteByte('\n')
			if werr := w.Flush(); werr != nil {
				return fmt.Errorf("writing decision: %w", werr)
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// readLine reads bytes up to the next newline. A line longer than
// maxLineSize is consumed in full but reported as too long with no
// content, so the caller stays aligned with the input stream.
func readLine(r *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	var tooLong bool
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
			if len(line) > maxLineSize {
				line = nil
				tooLong = true
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return line, tooLong, err
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, nil
	}
}

// process renders the decision for one input line, failing open on every
// error path.
func (g *Gate) process(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		g.logger.Error("invalid request line", "error", err)
		return Response{ID: "unknown", Action: "accept"}
	}

	accept := Response{ID: req.Event.ID, Action: "accept"}
	if accept.ID == "" {
		accept.ID = "unknown"
	}

	if req.Type != "new" {
		g.logger.Warn("unexpected request type", "type", req.Type)
		return accept
	}

	g.maybeReloadTrust(ctx)

	tctx, cancel := context.WithTimeout(ctx, g.RequestTimeout)
	defer cancel()

	verdict, err := g.engine.Decide(tctx, req.Event.ID, req.Event.Kind, g.policy, g.trusted)
	if err != nil {
		g.logger.Error("verdict failed, accepting", "event_id", req.Event.ID, "error", err)
		return accept
	}
	if !verdict.Reject {
		return accept
	}

	g.logger.Info("rejecting event",
		"event_id", req.Event.ID,
		"kind", req.Event.Kind,
		"count", verdict.Count,
		"threshold", verdict.Threshold,
		"category", verdict.Category,
	)
	return Response{
		ID:     req.Event.ID,
		Action: "reject",
		Msg:    verdict.Message(g.policy),
	}
}

func (g *Gate) maybeReloadTrust(ctx context.Context) {
	if time.Since(g.trustLoaded) < g.TrustReload {
		return
	}
	g.reloadTrust(ctx)
}

// reloadTrust reads the trust cache the daemon persists. An empty cache
// means no trust restriction (the upstream relay may already filter by
// trust), matching the daemon's behavior before the first crawl.
func (g *Gate) reloadTrust(ctx context.Context) {
	g.trustLoaded = time.Now()

	members, updated, err := g.store.ReadTrustCache(ctx)
	if err != nil {
		g.logger.Error("reading trust cache", "error", err)
		return
	}
	if len(members) == 0 {
		g.trusted = nil
		return
	}

	memberSet := make(map[string]bool, len(members))
	for _, pk := range members {
		memberSet[pk] = true
	}
	g.trusted = &trust.Snapshot{Members: memberSet, ComputedAt: updated}
}
