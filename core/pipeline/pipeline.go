// Package pipeline runs Charcoal's two scanning modes: the amplification
// pipeline (react to new quotes/reposts of the protected user) and the
// sweep pipeline (proactively walk the second-degree follower network).
// Grounded in shape on original_source/src/pipeline/{amplification,sweep}.rs,
// with the persist-as-you-go deviation spec.md §4.9 step 5 mandates, and
// bounded concurrency via golang.org/x/sync/errgroup in place of the
// original's futures::stream::buffer_unordered — the teacher's
// core/pool.PriorityPool.executeJob panic-recovery pattern is carried
// into workerRecover below rather than the whole priority-queue pool,
// since this pipeline needs only a flat concurrency bound, not priority
// lanes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaosgreml/charcoal/core/behavioral"
	"github.com/chaosgreml/charcoal/core/model"
	"github.com/chaosgreml/charcoal/core/netclient"
	"github.com/chaosgreml/charcoal/core/profile"
	"github.com/chaosgreml/charcoal/core/storage"
)

// Pipeline bundles the dependencies both scanning modes share.
type Pipeline struct {
	Client         *netclient.Client
	ProfileBuilder *profile.Builder
	Store          storage.Database

	ProtectedDID    string
	ProtectedHandle string

	Fingerprint       *model.TopicFingerprint
	ProtectedCentroid []float32

	Concurrency   int
	MaxFollowers  int
	StalenessDays int64

	Logger *slog.Logger
}

// follower is a DID+handle pair queued for scoring, reused by both
// pipeline modes.
type follower struct {
	did    string
	handle string
}

// workerRecover runs fn and converts any panic into an error, so one
// bad account never takes down the fan-out. Grounded on
// core/pool.PriorityPool.executeJob's recover-at-task-boundary pattern.
func workerRecover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: task panicked: %v", r)
		}
	}()
	return fn()
}

// scoreFollowersBounded runs the profile builder over followers with
// bounded concurrency, persisting each result through
// profile.Builder.Build as it completes (spec.md §4.9 step 5).
// Already-fresh accounts (per IsScoreStale) are skipped before any task
// is spawned. Returns the number of accounts actually scored.
func (p *Pipeline) scoreFollowersBounded(ctx context.Context, rc profile.Context, followers []follower) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)

	var scored atomic.Int64

	for _, f := range followers {
		if f.did == p.ProtectedDID {
			continue
		}

		stale, err := p.Store.IsScoreStale(ctx, f.did, p.StalenessDays)
		if err != nil {
			p.Logger.Warn("is_score_stale check failed; scoring anyway", "did", f.did, "err", err)
			stale = true
		}
		if !stale {
			continue
		}

		f := f
		g.Go(func() error {
			return workerRecover(func() error {
				if _, err := p.ProfileBuilder.Build(gctx, f.did, f.handle, rc); err != nil {
					p.Logger.Warn("profile build failed; skipping", "did", f.did, "err", err)
					return nil
				}
				scored.Add(1)
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return int(scored.Load()), err
	}
	return int(scored.Load()), nil
}

// buildScoringContext computes the per-scan shared inputs (median
// engagement, pile-on DID set) once, per spec.md §4.9 step 3.
func (p *Pipeline) buildScoringContext(ctx context.Context) (profile.Context, error) {
	median, err := p.Store.GetMedianEngagement(ctx)
	if err != nil {
		return profile.Context{}, err
	}

	events, err := p.Store.GetEventsForPileOn(ctx)
	if err != nil {
		return profile.Context{}, err
	}

	return profile.Context{
		Fingerprint:       p.Fingerprint,
		ProtectedCentroid: p.ProtectedCentroid,
		MedianEngagement:  median,
		PileOnDIDs:        behavioral.DetectPileOnParticipants(events, p.ProfileBuilder.BehavioralRules),
	}, nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// dedupeFollowers removes duplicate DIDs (keeping the first handle
// seen) and drops excluded, so every pipeline caller shares one
// deduplication rule.
func dedupeFollowers(followers []follower, exclude map[string]bool) []follower {
	seen := make(map[string]bool, len(followers))
	out := make([]follower, 0, len(followers))
	for _, f := range followers {
		if exclude[f.did] || seen[f.did] {
			continue
		}
		seen[f.did] = true
		out = append(out, f)
	}
	return out
}
