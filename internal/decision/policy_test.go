package decision

import (
	"testing"

	"github.com/thelookup/relay-moderator/internal/model"
)

func TestParseCategoryThresholds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]int
		wantErr bool
	}{
		{"empty", "", map[string]int{}, false},
		{"single", "spam=1", map[string]int{"spam": 1}, false},
		{"multiple with spaces", "spam=1, illegal=2", map[string]int{"spam": 1, "illegal": 2}, false},
		{"missing value", "spam", nil, true},
		{"non-numeric", "spam=lots", nil, true},
		{"zero threshold", "spam=0", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategoryThresholds(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCategoryThresholds(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCategoryThresholds(%q): %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %d, want %d", k, got[k], v)
				}
			}
		})
	}
}

func TestParseKindSet(t *testing.T) {
	got, err := ParseKindSet("30817, 31990")
	if err != nil {
		t.Fatalf("ParseKindSet: %v", err)
	}
	if !got[30817] || !got[31990] || len(got) != 2 {
		t.Errorf("got %v, want {30817, 31990}", got)
	}

	if _, err := ParseKindSet("30817,x"); err == nil {
		t.Error("ParseKindSet with junk succeeded, want error")
	}
}

func TestPolicy_ThresholdFor(t *testing.T) {
	p := DefaultPolicy()
	p.CategoryThresholds = map[string]int{"illegal": 1}

	if got := p.ThresholdFor("illegal"); got != 1 {
		t.Errorf("ThresholdFor(illegal) = %d, want 1", got)
	}
	if got := p.ThresholdFor("spam"); got != p.DefaultThreshold {
		t.Errorf("ThresholdFor(spam) = %d, want default %d", got, p.DefaultThreshold)
	}
}

func TestPolicy_Monitors(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		kind int
		want bool
	}{
		{30817, true},
		{31990, true},
		{1, false},
		{0, false}, // kind 0 is a real kind, not the unknown sentinel
		{model.KindUnknown, true},
	}
	for _, tt := range tests {
		if got := p.Monitors(tt.kind); got != tt.want {
			t.Errorf("Monitors(%d) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestVerdict_Message(t *testing.T) {
	p := DefaultPolicy()
	v := &Verdict{Reject: true, Category: "spam", Count: 5, Threshold: 3}

	got := v.Message(p)
	want := "Content has been reported 5 times by trusted network members"
	if got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}

	p.VerboseRejection = true
	if got := v.Message(p); got != want+" (type: spam)" {
		t.Errorf("verbose Message = %q", got)
	}

	// Aggregate verdicts have no category to append.
	aggregate := &Verdict{Reject: true, Count: 3, Threshold: 3}
	if got := aggregate.Message(p); got != "Content has been reported 3 times by trusted network members" {
		t.Errorf("aggregate Message = %q", got)
	}
}
