package behavioral

import (
	"testing"
	"time"

	"github.com/chaosgreml/charcoal/core/model"
)

func approxEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func TestComputeQuoteRatioZeroPosts(t *testing.T) {
	if got := ComputeQuoteRatio(3, 0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestComputeBehavioralBoostRange(t *testing.T) {
	min := ComputeBehavioralBoost(0, 0, false)
	max := ComputeBehavioralBoost(1, 1, true)
	if min != 1.0 {
		t.Fatalf("expected boost floor 1.0, got %v", min)
	}
	if !approxEqual(max, 1.5, 1e-9) {
		t.Fatalf("expected boost ceiling 1.5, got %v", max)
	}
}

func TestComputeBehavioralBoostMonotone(t *testing.T) {
	lo := ComputeBehavioralBoost(0.1, 0.1, false)
	hiQuote := ComputeBehavioralBoost(0.5, 0.1, false)
	hiReply := ComputeBehavioralBoost(0.1, 0.5, false)
	hiPileOn := ComputeBehavioralBoost(0.1, 0.1, true)
	if hiQuote <= lo || hiReply <= lo || hiPileOn <= lo {
		t.Fatalf("expected boost to increase with each argument")
	}
}

func TestIsBehaviorallyBenignAllFour(t *testing.T) {
	th := DefaultThresholds()
	if !IsBehaviorallyBenign(0.05, 0.10, false, 25, 10, th) {
		t.Fatalf("expected benign")
	}
	// flip each condition to the failing side in turn
	if IsBehaviorallyBenign(0.20, 0.10, false, 25, 10, th) {
		t.Fatalf("expected not benign: quote ratio too high")
	}
	if IsBehaviorallyBenign(0.05, 0.40, false, 25, 10, th) {
		t.Fatalf("expected not benign: reply ratio too high")
	}
	if IsBehaviorallyBenign(0.05, 0.10, true, 25, 10, th) {
		t.Fatalf("expected not benign: pile-on")
	}
	if IsBehaviorallyBenign(0.05, 0.10, false, 5, 10, th) {
		t.Fatalf("expected not benign: below-median engagement")
	}
}

func TestPileOnFewerThanThresholdYieldsNone(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.AmplificationEvent{
		{AmplifierDID: "A", OriginalPostURI: "post1", DetectedAt: base},
		{AmplifierDID: "B", OriginalPostURI: "post1", DetectedAt: base.Add(time.Hour)},
		{AmplifierDID: "C", OriginalPostURI: "post1", DetectedAt: base.Add(2 * time.Hour)},
	}
	got := DetectPileOnParticipants(events, DefaultThresholds())
	if len(got) != 0 {
		t.Fatalf("expected no pile-on participants, got %v", got)
	}
}

// Scenario F from spec.md §8: five distinct amplifiers within 24h all
// flagged; a sixth 25h after the first is not.
func TestPileOnScenarioF(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.AmplificationEvent{
		{AmplifierDID: "A", OriginalPostURI: "post1", DetectedAt: base},
		{AmplifierDID: "B", OriginalPostURI: "post1", DetectedAt: base.Add(1 * time.Hour)},
		{AmplifierDID: "C", OriginalPostURI: "post1", DetectedAt: base.Add(2 * time.Hour)},
		{AmplifierDID: "D", OriginalPostURI: "post1", DetectedAt: base.Add(3 * time.Hour)},
		{AmplifierDID: "E", OriginalPostURI: "post1", DetectedAt: base.Add(time.Duration(3.5 * float64(time.Hour)))},
		{AmplifierDID: "F", OriginalPostURI: "post1", DetectedAt: base.Add(25 * time.Hour)},
	}
	got := DetectPileOnParticipants(events, DefaultThresholds())

	for _, did := range []string{"A", "B", "C", "D", "E"} {
		if !got[did] {
			t.Fatalf("expected %s to be flagged as pile-on participant", did)
		}
	}
	if got["F"] {
		t.Fatalf("expected F (25h later) to not be flagged")
	}
}

func TestPileOnDedupesSameDIDWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.AmplificationEvent{
		{AmplifierDID: "A", OriginalPostURI: "post1", DetectedAt: base},
		{AmplifierDID: "A", OriginalPostURI: "post1", DetectedAt: base.Add(time.Hour)},
		{AmplifierDID: "B", OriginalPostURI: "post1", DetectedAt: base.Add(2 * time.Hour)},
		{AmplifierDID: "C", OriginalPostURI: "post1", DetectedAt: base.Add(3 * time.Hour)},
		{AmplifierDID: "D", OriginalPostURI: "post1", DetectedAt: base.Add(4 * time.Hour)},
		{AmplifierDID: "E", OriginalPostURI: "post1", DetectedAt: base.Add(5 * time.Hour)},
	}
	got := DetectPileOnParticipants(events, DefaultThresholds())
	// A appears twice but counts once; 5 distinct DIDs (A,B,C,D,E) reach
	// the threshold.
	if len(got) != 5 {
		t.Fatalf("expected 5 distinct pile-on participants, got %d: %v", len(got), got)
	}
}

func TestPileOnWindowsArePerPostURI(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.AmplificationEvent{
		{AmplifierDID: "A", OriginalPostURI: "post1", DetectedAt: base},
		{AmplifierDID: "B", OriginalPostURI: "post1", DetectedAt: base.Add(time.Hour)},
		{AmplifierDID: "C", OriginalPostURI: "post1", DetectedAt: base.Add(2 * time.Hour)},
		{AmplifierDID: "D", OriginalPostURI: "post2", DetectedAt: base},
		{AmplifierDID: "E", OriginalPostURI: "post2", DetectedAt: base.Add(time.Hour)},
		{AmplifierDID: "F", OriginalPostURI: "post2", DetectedAt: base.Add(2 * time.Hour)},
	}
	got := DetectPileOnParticipants(events, DefaultThresholds())
	if len(got) != 0 {
		t.Fatalf("expected two separate 3-amplifier groups to not combine, got %v", got)
	}
}

func TestApplyBehavioralModifierBenignCaps(t *testing.T) {
	th := DefaultThresholds()
	// Scenario B from spec.md §8: raw 14.35, benign, capped at 12.0.
	score, benign := ApplyBehavioralModifier(14.35, 0.05, 0.10, false, 25, 10, th)
	if !benign {
		t.Fatalf("expected benign gate to apply")
	}
	if !approxEqual(score, 12.0, 1e-9) {
		t.Fatalf("expected capped score 12.0, got %v", score)
	}
}

func TestApplyBehavioralModifierBoosts(t *testing.T) {
	th := DefaultThresholds()
	// Scenario A from spec.md §8: raw 16.8, not benign (quote_ratio=0.80),
	// boost = 1 + 0.80*0.20 + 0.30*0.15 = 1.205, final ~20.24.
	score, benign := ApplyBehavioralModifier(16.8, 0.80, 0.30, false, 20, 10, th)
	if benign {
		t.Fatalf("expected not benign")
	}
	if !approxEqual(score, 20.24, 0.01) {
		t.Fatalf("expected ~20.24, got %v", score)
	}
}
