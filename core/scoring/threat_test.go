package scoring

import (
	"testing"

	"github.com/chaosgreml/charcoal/core/model"
)

func approxEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func TestZeroScoresYieldZero(t *testing.T) {
	// spec.md §8 invariant 1.
	got := ComputeRawThreatScore(0, 0, DefaultWeights())
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if TierFromScore(got) != model.TierLow {
		t.Fatalf("expected Low tier")
	}
}

func TestOverlapFloorCapsAt25(t *testing.T) {
	// spec.md §8 invariant 2, Scenario E: toxicity=0.80, overlap=0.02.
	got := ComputeRawThreatScore(0.80, 0.02, DefaultWeights())
	if got != 25.0 {
		t.Fatalf("expected gated score of 25.0, got %v", got)
	}
	if TierFromScore(got) != model.TierHigh {
		t.Fatalf("expected High tier at the gate ceiling")
	}
}

func TestScenarioA_QuoteDunker(t *testing.T) {
	// raw = 0.15 * 70 * (1 + 0.40*1.5) = 16.8
	got := ComputeRawThreatScore(0.15, 0.40, DefaultWeights())
	if !approxEqual(got, 16.8, 1e-6) {
		t.Fatalf("expected 16.8, got %v", got)
	}
}

func TestScenarioB_SupportiveAlly(t *testing.T) {
	// raw = 0.10 * 70 * (1 + 0.70*1.5) = 14.35
	got := ComputeRawThreatScore(0.10, 0.70, DefaultWeights())
	if !approxEqual(got, 14.35, 1e-6) {
		t.Fatalf("expected 14.35, got %v", got)
	}
}

func TestScenarioC_PileOnParticipant(t *testing.T) {
	// raw = 0.20 * 70 * (1 + 0.35*1.5) = 21.35
	got := ComputeRawThreatScore(0.20, 0.35, DefaultWeights())
	if !approxEqual(got, 21.35, 1e-6) {
		t.Fatalf("expected 21.35, got %v", got)
	}
}

func TestScenarioD_HighToxicityBenign(t *testing.T) {
	// raw = 0.50 * 70 * (1 + 0.50*1.5) = 61.25
	got := ComputeRawThreatScore(0.50, 0.50, DefaultWeights())
	if !approxEqual(got, 61.25, 1e-6) {
		t.Fatalf("expected 61.25, got %v", got)
	}
}

func TestScoreAlwaysInRangeAndTierTotal(t *testing.T) {
	// spec.md §8 invariant 3.
	for _, toxicity := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		for _, overlap := range []float64{-1, 0, 0.05, 0.5, 1.0} {
			score := ComputeRawThreatScore(toxicity, overlap, DefaultWeights())
			if score < 0 || score > 100 {
				t.Fatalf("score %v out of range for toxicity=%v overlap=%v", score, toxicity, overlap)
			}
			tier := TierFromScore(score)
			if tier == "" {
				t.Fatalf("tier derivation not total for score %v", score)
			}
		}
	}
}

func TestTierThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  model.ThreatTier
	}{
		{0, model.TierLow},
		{7.99, model.TierLow},
		{8, model.TierWatch},
		{14.99, model.TierWatch},
		{15, model.TierElevated},
		{24.99, model.TierElevated},
		{25, model.TierHigh},
		{100, model.TierHigh},
	}
	for _, c := range cases {
		if got := TierFromScore(c.score); got != c.want {
			t.Fatalf("score %v: expected %v, got %v", c.score, c.want, got)
		}
	}
}
