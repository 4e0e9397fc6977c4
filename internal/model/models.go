package model

import "time"

// KindUnknown marks a reported target whose event kind was not carried by
// the report. Report events usually do not state the kind of the content
// they point at, so most stored reports carry this value. Kind 0 is a real
// event kind, so the sentinel is negative.
const KindUnknown = -1

// Report represents a single moderation report submission. One row per
// report event; the report event's own id is the natural key.
type Report struct {
	ReportID    string    // id of the report event itself
	TargetID    string    // id of the content being reported
	TargetKind  int       // kind of the reported content, KindUnknown if not stated
	ReporterID  string    // pubkey of the reporter
	Category    string    // NIP-56 report type ("spam", "illegal", ...), "" if absent
	Detail      string    // free-text justification from the report body
	SubmittedAt time.Time // timestamp asserted by the report event
	ReceivedAt  time.Time // when this process first stored the row
}

// ActionTrigger records which code path produced a moderation action.
type ActionTrigger string

const (
	TriggerSweep  ActionTrigger = "sweep"
	TriggerIngest ActionTrigger = "ingest"
)

// ModerationAction is the audit record for a threshold-crossing verdict and
// the outcome of acting on it. A target with a successful deletion on file
// is skipped by later sweep passes.
type ModerationAction struct {
	ID                 string
	TargetID           string
	Trigger            ActionTrigger
	Category           string // category that tripped the threshold, "" for aggregate
	Count              int
	Threshold          int
	Deleted            bool
	TombstonePublished bool
	Error              string // executor failure detail, "" on success
	CreatedAt          time.Time
}

// StoreStats summarizes the report store, for the stats endpoint and
// startup logging.
type StoreStats struct {
	TotalReports    int `json:"total_reports"`
	UniqueTargets   int `json:"unique_targets"`
	UniqueReporters int `json:"unique_reporters"`
	TrustCacheSize  int `json:"trust_cache_size"`
}
