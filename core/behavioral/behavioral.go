// Package behavioral derives the quote/reply/engagement/pile-on signals
// described in spec.md §4.7, and the benign-gate and behavioral-boost
// modifiers consumed by the profile builder.
//
// Grounded precisely on original_source/src/scoring/behavioral.rs —
// constants, formulas, and the pile-on sliding-window algorithm are
// ported as-is.
package behavioral

import (
	"sort"
	"time"

	"github.com/chaosgreml/charcoal/core/model"
)

// Thresholds bundles the configurable constants spec.md §9 calls out as
// tunable rather than hardcoded.
type Thresholds struct {
	PileOnCount    int
	PileOnWindow   time.Duration
	BenignQuoteMax float64
	BenignReplyMax float64
	BenignGateCap  float64
}

// DefaultThresholds returns the values the original program hardcoded,
// now exposed as configuration per spec.md §9.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PileOnCount:    5,
		PileOnWindow:   24 * time.Hour,
		BenignQuoteMax: 0.15,
		BenignReplyMax: 0.30,
		BenignGateCap:  12.0,
	}
}

// ComputeAvgEngagement returns the mean of like_count+repost_count across
// posts. Returns 0 for an empty slice.
func ComputeAvgEngagement(posts []model.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	var total int
	for _, p := range posts {
		total += p.LikeCount + p.RepostCount
	}
	return float64(total) / float64(len(posts))
}

// ComputeQuoteRatio returns quoteCount/totalPosts, or 0 if totalPosts is 0.
func ComputeQuoteRatio(quoteCount, totalPosts int) float64 {
	if totalPosts == 0 {
		return 0
	}
	return float64(quoteCount) / float64(totalPosts)
}

// ComputeReplyRatio returns replyCount/total, or 0 if total is 0.
func ComputeReplyRatio(replyCount, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(replyCount) / float64(total)
}

// ComputeBehavioralBoost returns the multiplier applied to the raw threat
// score for non-benign accounts. Monotone in each argument; ranges
// exactly over [1.0, 1.5] as quoteRatio, replyRatio range over [0,1] and
// pileOn ranges over {false,true} (spec.md §8 invariant 4).
func ComputeBehavioralBoost(quoteRatio, replyRatio float64, pileOn bool) float64 {
	boost := 1.0
	boost += quoteRatio * 0.20
	boost += replyRatio * 0.15
	if pileOn {
		boost += 0.15
	}
	return boost
}

// IsBehaviorallyBenign reports whether all four benign-gate conditions
// hold (spec.md §4.7, §8 invariant 5): quote ratio and reply ratio below
// their caps, no pile-on participation, and above-median engagement.
func IsBehaviorallyBenign(quoteRatio, replyRatio float64, pileOn bool, avgEngagement, medianEngagement float64, t Thresholds) bool {
	return quoteRatio < t.BenignQuoteMax &&
		replyRatio < t.BenignReplyMax &&
		!pileOn &&
		avgEngagement > medianEngagement
}

// ApplyBehavioralModifier implements profile builder step 7 (spec.md
// §4.8): if the account is behaviorally benign, cap the raw score at the
// benign-gate cap; otherwise multiply by the behavioral boost and clamp
// to [0, 100]. Returns the modified score and whether the benign gate
// applied.
func ApplyBehavioralModifier(rawScore, quoteRatio, replyRatio float64, pileOn bool, avgEngagement, medianEngagement float64, t Thresholds) (float64, bool) {
	if IsBehaviorallyBenign(quoteRatio, replyRatio, pileOn, avgEngagement, medianEngagement, t) {
		if rawScore < t.BenignGateCap {
			return rawScore, true
		}
		return t.BenignGateCap, true
	}

	boost := ComputeBehavioralBoost(quoteRatio, replyRatio, pileOn)
	score := clamp(rawScore*boost, 0, 100)
	return score, false
}

// pileOnEvent is the subset of an AmplificationEvent the pile-on detector
// needs: which post, who amplified it, and when.
type pileOnEvent struct {
	did        string
	detectedAt time.Time
}

// DetectPileOnParticipants groups events by original post URI and, within
// each group, slides a window of width t.PileOnWindow forward from every
// sorted event. If the distinct-amplifier count within a window reaches
// t.PileOnCount, every distinct DID in that window joins the returned
// set. Grounded precisely on behavioral.rs::detect_pile_on_participants —
// the window is forward-looking from each event (not a classic two-
// pointer slide), and the loop over candidates breaks at the first event
// at or past the window edge since events within a post are time-sorted.
// The window is half-open: an event exactly t.PileOnWindow after the
// window's first event falls outside it.
func DetectPileOnParticipants(events []model.AmplificationEvent, t Thresholds) map[string]bool {
	byPost := make(map[string][]pileOnEvent)
	for _, e := range events {
		byPost[e.OriginalPostURI] = append(byPost[e.OriginalPostURI], pileOnEvent{
			did:        e.AmplifierDID,
			detectedAt: e.DetectedAt,
		})
	}

	result := make(map[string]bool)

	for _, group := range byPost {
		sort.Slice(group, func(i, j int) bool {
			return group[i].detectedAt.Before(group[j].detectedAt)
		})

		if len(group) < t.PileOnCount {
			continue
		}

		for i := range group {
			windowStart := group[i].detectedAt
			windowEnd := windowStart.Add(t.PileOnWindow)

			uniqueDIDs := make(map[string]bool)
			for j := i; j < len(group); j++ {
				if !group[j].detectedAt.Before(windowEnd) {
					break
				}
				uniqueDIDs[group[j].did] = true
			}

			if len(uniqueDIDs) >= t.PileOnCount {
				for did := range uniqueDIDs {
					result[did] = true
				}
			}
		}
	}

	return result
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
