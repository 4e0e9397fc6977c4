package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/thelookup/relay-moderator/internal/action"
	"github.com/thelookup/relay-moderator/internal/decision"
	"github.com/thelookup/relay-moderator/internal/ingest"
	"github.com/thelookup/relay-moderator/internal/model"
	"github.com/thelookup/relay-moderator/internal/relay"
	"github.com/thelookup/relay-moderator/internal/server"
	"github.com/thelookup/relay-moderator/internal/store"
	"github.com/thelookup/relay-moderator/internal/sweep"
	"github.com/thelookup/relay-moderator/internal/trust"
)

func main() {
	dbPath := flag.String("db", envOr("MODERATOR_DB_PATH", "./moderation.db"), "SQLite database path")
	listenAddr := flag.String("listen", envOr("MODERATOR_LISTEN", ":9100"), "debug/metrics HTTP listen address")

	reportRelay := flag.String("report-relay", envOr("MODERATOR_REPORT_RELAY", "wss://wot.nostr.net"), "relay to subscribe to for report events")
	followRelays := flag.String("follow-relays", envOr("MODERATOR_FOLLOW_RELAYS", "wss://relay.damus.io,wss://nos.lol"), "comma-separated relays to query for contact lists")

	trustRoot := flag.String("trust-root", envOr("MODERATOR_TRUST_ROOT", ""), "root pubkey for the trust crawl (empty disables trust filtering)")
	trustDepth := flag.Int("trust-depth", 2, "trust crawl depth")
	trustMax := flag.Int("trust-max", 10000, "trust set size limit")
	trustTTL := flag.Duration("trust-ttl", 24*time.Hour, "trust snapshot time-to-live")
	trustRefresh := flag.Duration("trust-refresh", 1*time.Hour, "trust refresh check interval")
	ingestTrusted := flag.Bool("ingest-trusted", false, "drop reports from untrusted identities at ingest time instead of decision time")

	threshold := flag.Int("threshold", 3, "default distinct-reporter threshold")
	categoryThresholds := flag.String("category-thresholds", envOr("MODERATOR_CATEGORY_THRESHOLDS", ""), "per-category thresholds, e.g. spam=1,illegal=2")
	window := flag.Duration("window", 30*24*time.Hour, "report time window")
	monitoredKinds := flag.String("monitored-kinds", envOr("MODERATOR_MONITORED_KINDS", "30817,31990"), "comma-separated content kinds governed by the engine")

	strfryExe := flag.String("strfry", envOr("MODERATOR_STRFRY", "/usr/local/bin/strfry"), "strfry executable")
	strfryDir := flag.String("strfry-dir", envOr("MODERATOR_STRFRY_DIR", "/var/lib/strfry"), "strfry data directory")
	autoDelete := flag.Bool("auto-delete", true, "delete content whose report count crosses a threshold")
	dryRun := flag.Bool("dry-run", false, "log removal commands instead of executing them")

	publishRelays := flag.String("publish-relays", envOr("MODERATOR_PUBLISH_RELAYS", ""), "comma-separated relays to publish tombstones to (empty disables)")

	sweepInterval := flag.Duration("sweep-interval", 10*time.Minute, "deletion sweep interval")
	retentionInterval := flag.Duration("retention-interval", 24*time.Hour, "retention purge interval")
	retentionFactor := flag.Int("retention-factor", 2, "keep reports for this multiple of the time window")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

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
	if policy.CategoryThresholds, err = decision.ParseCategoryThresholds(*categoryThresholds); err != nil {
		log.Fatalf("Invalid -category-thresholds: %v", err)
	}
	if policy.MonitoredKinds, err = decision.ParseKindSet(*monitoredKinds); err != nil {
		log.Fatalf("Invalid -monitored-kinds: %v", err)
	}

	if stats, err := db.Stats(ctx); err == nil {
		logger.Info("store opened",
			"total_reports", stats.TotalReports,
			"unique_targets", stats.UniqueTargets,
			"unique_reporters", stats.UniqueReporters,
			"trust_cache_size", stats.TrustCacheSize,
		)
	}

	// Trust stack. Without a root the upstream relay is assumed to filter
	// by trust already and decisions run unrestricted.
	var trustCache *trust.Cache
	if *trustRoot != "" {
		follows := relay.NewFollowSource(splitList(*followRelays), logger)
		defer follows.Close()

		builder := trust.NewBuilder(follows, logger)
		trustCache = trust.NewCache(builder, *trustRoot, *trustDepth, *trustMax, *trustTTL)

		// A fresh persisted trust set spares the startup crawl.
		if members, updated, err := db.ReadTrustCache(ctx); err != nil {
			log.Fatalf("Failed to read trust cache: %v", err)
		} else if len(members) > 0 && time.Since(updated) < *trustTTL {
			memberSet := make(map[string]bool, len(members))
			for _, pk := range members {
				memberSet[pk] = true
			}
			trustCache.Prime(&trust.Snapshot{
				Members:    memberSet,
				Root:       *trustRoot,
				Depth:      *trustDepth,
				ComputedAt: updated,
			})
			logger.Info("trust cache restored", "members", len(members), "age", time.Since(updated))
		}

		refresher := trust.NewRefresher(trustCache, db, *trustRefresh, logger)
		go func() {
			if err := refresher.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("trust refresher stopped", "error", err)
			}
		}()
	} else {
		logger.Info("no trust root configured, trust filtering disabled")
	}
	trusted := func() *trust.Snapshot {
		if trustCache == nil {
			return nil
		}
		return trustCache.Current()
	}

	var deleter sweep.Deleter
	if *autoDelete {
		deleter = action.NewStrfryDeleter(*strfryExe, *strfryDir, *dryRun, logger)
	}

	var publisher sweep.TombstonePublisher
	secretKey := os.Getenv("MODERATOR_SECRET_KEY")
	if relays := splitList(*publishRelays); len(relays) > 0 {
		if secretKey == "" {
			log.Fatal("MODERATOR_SECRET_KEY must be set to publish tombstones")
		}
		if _, err := nostr.GetPublicKey(secretKey); err != nil {
			log.Fatalf("Invalid MODERATOR_SECRET_KEY: %v", err)
		}
		publisher = relay.NewPublisher(relays, secretKey, logger)
	}

	engine := decision.NewEngine(db)
	sweeper := sweep.NewSweeper(db, engine, policy, trusted, deleter, publisher, *sweepInterval, logger)
	go func() {
		if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("deletion sweep stopped", "error", err)
		}
	}()

	keep := time.Duration(*retentionFactor) * *window
	retention := sweep.NewRetention(db, keep, *retentionInterval, logger)
	go func() {
		if err := retention.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("retention sweep stopped", "error", err)
		}
	}()

	ingestor, err := ingest.NewIngestor(db, ingest.DefaultSeenSize, logger)
	if err != nil {
		log.Fatalf("Failed to create ingestor: %v", err)
	}
	if *ingestTrusted && trustCache != nil {
		ingestor.RequireTrusted(trustCache.Current)
	}
	ingestor.OnStored = func(ctx context.Context, report *model.Report) {
		if _, err := sweeper.EvaluateTarget(ctx, report.TargetID, report.TargetKind, model.TriggerIngest); err != nil {
			logger.Error("evaluating reported target", "target", report.TargetID, "error", err)
		}
	}

	subscriber := relay.NewSubscriber(*reportRelay, func(ctx context.Context, ev *nostr.Event) {
		if _, err := ingestor.Ingest(ctx, ev); err != nil {
			logger.Error("ingesting report failed", "report_id", ev.ID, "error", err)
		}
	}, logger)
	go func() {
		if err := subscriber.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("report subscriber stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:    *listenAddr,
		Handler: server.New(db, logger).Handler(),
	}
	go func() {
		log.Printf("Debug listener on %s", *listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
