package decision

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thelookup/relay-moderator/internal/model"
)

// DefaultRejectionMessage is the user-facing message template for rejected
// writes. "{count}" is replaced with the distinct trusted reporter count.
const DefaultRejectionMessage = "Content has been reported {count} times by trusted network members"

// Policy is the immutable per-process moderation configuration.
type Policy struct {
	// DefaultThreshold is the distinct trusted reporter count at which
	// content is rejected, absent a category-specific override.
	DefaultThreshold int
	// CategoryThresholds overrides DefaultThreshold per report category.
	CategoryThresholds map[string]int
	// TimeWindow excludes reports older than this from counts.
	TimeWindow time.Duration
	// MonitoredKinds is the set of content kinds this engine governs.
	// Content of any other known kind is accepted without a count check.
	MonitoredKinds map[int]bool
	// RejectionMessage is the message template for rejections.
	RejectionMessage string
	// VerboseRejection appends the triggering category to the message.
	VerboseRejection bool
}

// DefaultPolicy returns the stock policy: threshold 3, 30-day window,
// monitoring the lookup listing kinds.
func DefaultPolicy() *Policy {
	return &Policy{
		DefaultThreshold:   3,
		CategoryThresholds: map[string]int{},
		TimeWindow:         30 * 24 * time.Hour,
		MonitoredKinds:     map[int]bool{30817: true, 31990: true},
		RejectionMessage:   DefaultRejectionMessage,
	}
}

// ThresholdFor resolves the threshold for a report category.
func (p *Policy) ThresholdFor(category string) int {
	if t, ok := p.CategoryThresholds[category]; ok {
		return t
	}
	return p.DefaultThreshold
}

// Monitors reports whether content of the given kind is governed by this
// policy. An unknown kind cannot be proven out of scope, so it is treated
// as monitored; the background sweep sees mostly unknown kinds because
// report events rarely state the kind of the content they point at.
func (p *Policy) Monitors(kind int) bool {
	if kind == model.KindUnknown {
		return true
	}
	return p.MonitoredKinds[kind]
}

// ParseCategoryThresholds parses a "spam=1,illegal=2" flag value.
func ParseCategoryThresholds(s string) (map[string]int, error) {
	thresholds := map[string]int{}
	if s == "" {
		return thresholds, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed category threshold %q (want name=count)", pair)
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid threshold for category %q: %q", name, val)
		}
		thresholds[name] = n
	}
	return thresholds, nil
}

// ParseKindSet parses a "30817,31990" flag value.
func ParseKindSet(s string) (map[int]bool, error) {
	kinds := map[int]bool{}
	if s == "" {
		return kinds, nil
	}
	for _, field := range strings.Split(s, ",") {
		k, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid event kind %q", field)
		}
		kinds[k] = true
	}
	return kinds, nil
}

// Verdict is the engine's decision for one target.
type Verdict struct {
	// Reject is true when enough distinct trusted reporters crossed a
	// threshold within the time window.
	Reject bool
	// Category names the category whose threshold triggered the reject,
	// or "" when the aggregate default threshold did (or for accepts).
	Category string
	// Count is the distinct trusted reporter count that was evaluated.
	Count int
	// Threshold is the threshold the count was compared against.
	Threshold int
}

// Message renders the user-visible rejection message for this verdict.
func (v *Verdict) Message(p *Policy) string {
	msg := strings.ReplaceAll(p.RejectionMessage, "{count}", strconv.Itoa(v.Count))
	if p.VerboseRejection && v.Category != "" {
		msg += fmt.Sprintf(" (type: %s)", v.Category)
	}
	return msg
}
