// Command writepolicy is a strfry write policy plugin. It reads one
// JSON request per line on stdin and answers with one accept/reject
// decision per line on stdout, consulting the moderation database kept
// by moderatord. Any internal failure accepts the write so a broken
// moderation stack never blocks the relay.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thelookup/relay-moderator/internal/decision"
	"github.com/thelookup/relay-moderator/internal/gate"
	"github.com/thelookup/relay-moderator/internal/store"
)

func main() {
	dbPath := flag.String("db", envOr("MODERATOR_DB_PATH", "./moderation.db"), "SQLite database path")
	threshold := flag.Int("threshold", 3, "default distinct-reporter threshold")
	categoryThresholds := flag.String("category-thresholds", envOr("MODERATOR_CATEGORY_THRESHOLDS", ""), "per-category thresholds, e.g. spam=1,illegal=2")
	window := flag.Duration("window", 30*24*time.Hour, "report time window")
	monitoredKinds := flag.String("monitored-kinds", envOr("MODERATOR_MONITORED_KINDS", "30817,31990"), "comma-separated content kinds governed by the engine")
	rejectionMsg := flag.String("rejection-msg", decision.DefaultRejectionMessage, "message returned with rejections ({count} is substituted)")
	verbose := flag.Bool("verbose-rejection", false, "append the report category to rejection messages")
	requestTimeout := flag.Duration("request-timeout", gate.DefaultRequestTimeout, "per-request decision deadline")
	trustReload := flag.Duration("trust-reload", gate.DefaultTrustReload, "how often to re-read the persisted trust set")
	flag.Parse()

	// stdout carries the line protocol, so all logging goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(ctx, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	policy := decision.DefaultPolicy()
	policy.DefaultThreshold = *threshold
	policy.TimeWindow = *window
	policy.RejectionMessage = *rejectionMsg
	policy.VerboseRejection = *verbose
	if policy.CategoryThresholds, err = decision.ParseCategoryThresholds(*categoryThresholds); err != nil {
		log.Fatalf("Invalid -category-thresholds: %v", err)
	}
	if policy.MonitoredKinds, err = decision.ParseKindSet(*monitoredKinds); err != nil {
		log.Fatalf("Invalid -monitored-kinds: %v", err)
	}

	g := gate.New(db, policy, logger)
	g.RequestTimeout = *requestTimeout
	g.TrustReload = *trustReload

	if err := g.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("Policy loop error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
