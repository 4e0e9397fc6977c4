package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thelookup/relay-moderator/internal/model"
	_ "modernc.org/sqlite"
)

const timeFormat = "2006-01-02 15:04:05"

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database at the given path and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename to ensure order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// --- Reports ---

// AddReport inserts a report row. A second submission with the same
// report_id is a no-op, reported via inserted=false rather than an error.
func (s *SQLiteStore) AddReport(ctx context.Context, report *model.Report) (bool, error) {
	receivedAt := report.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (report_id, target_id, target_kind, reporter_id, category, detail, submitted_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(report_id) DO NOTHING`,
		report.ReportID, report.TargetID, report.TargetKind, report.ReporterID,
		report.Category, report.Detail, report.SubmittedAt.Unix(),
		receivedAt.UTC().Format(timeFormat))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasReport(ctx context.Context, reportID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reports WHERE report_id = ?`, reportID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// countQuery builds the shared WHERE clause for the count queries.
func countQuery(targetID string, f CountFilter) (string, []interface{}, bool) {
	where := "target_id = ?"
	args := []interface{}{targetID}

	if !f.Since.IsZero() {
		where += " AND submitted_at >= ?"
		args = append(args, f.Since.Unix())
	}
	if f.Category != nil {
		where += " AND category = ?"
		args = append(args, *f.Category)
	}
	if f.Trusted != nil {
		if len(f.Trusted) == 0 {
			// A present-but-empty trust set matches nothing.
			return "", nil, false
		}
		placeholders := make([]string, len(f.Trusted))
		for i, pk := range f.Trusted {
			placeholders[i] = "?"
			args = append(args, pk)
		}
		where += fmt.Sprintf(" AND reporter_id IN (%s)", strings.Join(placeholders, ", "))
	}
	return where, args, true
}

// CountDistinctReporters counts distinct reporters for a target. Multiple
// reports from the same reporter count once.
func (s *SQLiteStore) CountDistinctReporters(ctx context.Context, targetID string, f CountFilter) (int, error) {
	where, args, matchable := countQuery(targetID, f)
	if !matchable {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT reporter_id) FROM reports WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountsByCategory returns distinct-reporter counts grouped by report
// category. Uncategorized reports appear under the empty-string key.
func (s *SQLiteStore) CountsByCategory(ctx context.Context, targetID string, f CountFilter) (map[string]int, error) {
	where, args, matchable := countQuery(targetID, f)
	if !matchable {
		return map[string]int{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(DISTINCT reporter_id) FROM reports WHERE `+where+` GROUP BY category`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

// ListReportedTargets returns every target with at least one report
// submitted at or after since, with the best-known kind for each (reports
// that carried a kind win over those that did not).
func (s *SQLiteStore) ListReportedTargets(ctx context.Context, since time.Time) ([]ReportedTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, MAX(target_kind) FROM reports
		 WHERE submitted_at >= ? GROUP BY target_id ORDER BY target_id`,
		since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []ReportedTarget
	for rows.Next() {
		var t ReportedTarget
		if err := rows.Scan(&t.TargetID, &t.TargetKind); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// PurgeOlderThan removes reports submitted before cutoff and returns the
// number of rows removed.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reports WHERE submitted_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Trust cache ---

// ReplaceTrustCache atomically replaces the persisted trust set. Members
// that dropped out of the graph disappear; there is no incremental merge.
func (s *SQLiteStore) ReplaceTrustCache(ctx context.Context, members []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trust_cache`); err != nil {
		return fmt.Errorf("clear trust cache: %w", err)
	}

	now := time.Now().UTC().Format(timeFormat)
	for _, pk := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trust_cache (pubkey, last_updated) VALUES (?, ?)`, pk, now); err != nil {
			return fmt.Errorf("insert trust cache member: %w", err)
		}
	}
	return tx.Commit()
}

// ReadTrustCache returns the persisted trust set and when it was last
// replaced. An empty cache returns no members and a zero time.
func (s *SQLiteStore) ReadTrustCache(ctx context.Context) ([]string, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pubkey FROM trust_cache ORDER BY pubkey`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, time.Time{}, err
		}
		members = append(members, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	var lastUpdated sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(last_updated) FROM trust_cache`).Scan(&lastUpdated); err != nil {
		return nil, time.Time{}, err
	}
	var updated time.Time
	if lastUpdated.Valid {
		updated, _ = time.Parse(timeFormat, lastUpdated.String)
	}
	return members, updated, nil
}

// --- Moderation actions ---

func (s *SQLiteStore) RecordAction(ctx context.Context, action *model.ModerationAction) error {
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_actions (id, target_id, trigger_source, category, report_count, threshold, deleted, tombstone_published, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.TargetID, string(action.Trigger), action.Category,
		action.Count, action.Threshold, boolToInt(action.Deleted),
		boolToInt(action.TombstonePublished), action.Error,
		createdAt.UTC().Format(timeFormat))
	return err
}

func (s *SQLiteStore) ListActionsByTarget(ctx context.Context, targetID string) ([]*model.ModerationAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, trigger_source, category, report_count, threshold, deleted, tombstone_published, error, created_at
		 FROM moderation_actions WHERE target_id = ? ORDER BY created_at DESC`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*model.ModerationAction
	for rows.Next() {
		var a model.ModerationAction
		var trigger, createdAt string
		var deleted, published int
		err := rows.Scan(&a.ID, &a.TargetID, &trigger, &a.Category, &a.Count,
			&a.Threshold, &deleted, &published, &a.Error, &createdAt)
		if err != nil {
			return nil, err
		}
		a.Trigger = model.ActionTrigger(trigger)
		a.Deleted = deleted != 0
		a.TombstonePublished = published != 0
		a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// HasDeletion reports whether a successful deletion was ever recorded for
// the target.
func (s *SQLiteStore) HasDeletion(ctx context.Context, targetID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM moderation_actions WHERE target_id = ? AND deleted = 1 LIMIT 1`,
		targetID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.StoreStats, error) {
	var stats model.StoreStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports`).Scan(&stats.TotalReports); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT target_id) FROM reports`).Scan(&stats.UniqueTargets); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT reporter_id) FROM reports`).Scan(&stats.UniqueReporters); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trust_cache`).Scan(&stats.TrustCacheSize); err != nil {
		return nil, err
	}
	return &stats, nil
}

// --- Helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
