// Package scoring composes toxicity and topic overlap into the final
// threat score and tier. Grounded precisely on
// original_source/src/scoring/threat.rs, with the overlap-gate threshold
// default changed from the original's Jaccard-calibrated 0.15 to
// spec.md's own cosine-scale default of 0.05 (see DESIGN.md, Open
// Question 1).
package scoring

import "github.com/chaosgreml/charcoal/core/model"

// Weights bundles the configurable constants behind the threat score
// formula.
type Weights struct {
	// ToxicityWeight is the base multiplier applied to toxicity (default 70.0).
	ToxicityWeight float64
	// OverlapMultiplier controls how much overlap amplifies toxicity.
	// At max overlap (1.0) the toxicity term is multiplied by
	// (1 + OverlapMultiplier) (default 1.5 -> 2.5x).
	OverlapMultiplier float64
	// OverlapGateThreshold: overlap below this value triggers the gate
	// (default 0.05 for the cosine-similarity scale).
	OverlapGateThreshold float64
	// GateMaxScore caps the raw score when the gate is active (default 25.0).
	GateMaxScore float64
}

// DefaultWeights returns the weights spec.md §4.10 specifies.
func DefaultWeights() Weights {
	return Weights{
		ToxicityWeight:       70.0,
		OverlapMultiplier:    1.5,
		OverlapGateThreshold: 0.05,
		GateMaxScore:         25.0,
	}
}

// ComputeRawThreatScore implements the multiplicative formula from
// spec.md §4.10: raw = toxicity * ToxicityWeight * (1 + overlap *
// OverlapMultiplier), with an overlap floor that caps hostile-but-
// irrelevant accounts at GateMaxScore. Overlap amplifies toxicity rather
// than contributing independently, so a high-overlap/low-toxicity ally
// stays low (spec.md §8 invariant 1: toxicity=overlap=0 implies raw=0).
func ComputeRawThreatScore(toxicity, topicOverlap float64, w Weights) float64 {
	score := toxicity * w.ToxicityWeight * (1.0 + topicOverlap*w.OverlapMultiplier)
	if topicOverlap < w.OverlapGateThreshold && score > w.GateMaxScore {
		score = w.GateMaxScore
	}
	return clamp(score, 0, 100)
}

// TierFromScore derives the final threat tier. Re-exported from model for
// callers that only import this package.
func TierFromScore(score float64) model.ThreatTier {
	return model.TierFromScore(score)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
