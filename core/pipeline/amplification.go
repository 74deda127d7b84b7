package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/chaosgreml/charcoal/core/model"
)

const (
	amplificationCursorKey = "amplification_cursor"
	lastScanAtKey          = "last_scan_at"
	protectedPostScanLimit = 100
)

// AmplificationResult summarizes one run of the amplification pipeline.
type AmplificationResult struct {
	NewEvents       int
	FollowersQueued int
	AccountsScored  int
}

// RunAmplification implements spec.md §4.9's six-step loop. It fetches
// the protected user's posts created since the stored cursor, queries
// Constellation for quotes/reposts of those posts, records every new
// event, and — for quote events only — fans out to the quoter's
// follower list for scoring.
func (p *Pipeline) RunAmplification(ctx context.Context) (AmplificationResult, error) {
	var result AmplificationResult

	cursor, found, err := p.Store.GetScanState(ctx, amplificationCursorKey)
	if err != nil {
		return result, err
	}
	var since time.Time
	if found {
		since, _ = time.Parse(time.RFC3339, cursor)
	}

	posts, err := p.Client.FetchRecentPosts(ctx, p.ProtectedDID, protectedPostScanLimit)
	if err != nil {
		return result, err
	}

	newPosts := make([]model.Post, 0, len(posts))
	for _, post := range posts {
		if post.CreatedAt.After(since) {
			newPosts = append(newPosts, post)
		}
	}
	if err := p.Store.SetScanState(ctx, lastScanAtKey, nowUTC().Format(time.RFC3339)); err != nil {
		p.Logger.Warn("failed to record last_scan_at", "err", err)
	}
	if len(newPosts) == 0 {
		return result, nil
	}

	sort.Slice(newPosts, func(i, j int) bool {
		return newPosts[i].CreatedAt.Before(newPosts[j].CreatedAt)
	})

	uris := make([]string, len(newPosts))
	for i, post := range newPosts {
		uris[i] = post.URI
	}

	events, err := p.Client.FindAmplificationEvents(ctx, uris)
	if err != nil {
		return result, err
	}
	result.NewEvents = len(events)

	amplifierDIDs := make([]string, 0, len(events))
	for _, e := range events {
		amplifierDIDs = append(amplifierDIDs, e.AmplifierDID)
	}
	handles, err := p.Client.ResolveHandles(ctx, amplifierDIDs)
	if err != nil {
		p.Logger.Warn("batched handle resolution failed; amplifier handles will fall back to DID", "err", err)
	}

	var quoters []follower
	for i := range events {
		e := &events[i]
		if handle, ok := handles[e.AmplifierDID]; ok {
			e.AmplifierHandle = handle
		}

		if e.EventType == model.EventQuote && e.AmplifierPostURI != nil {
			if text := p.fetchQuoteText(ctx, *e.AmplifierPostURI); text != "" {
				e.AmplifierText = &text
			}
			quoters = append(quoters, follower{did: e.AmplifierDID, handle: e.AmplifierHandle})
		}

		if _, err := p.Store.InsertAmplificationEvent(ctx, *e); err != nil {
			p.Logger.Warn("failed to persist amplification event", "amplifier", e.AmplifierDID, "err", err)
		}
	}

	rc, err := p.buildScoringContext(ctx)
	if err != nil {
		return result, err
	}

	queued := p.collectQuoterFollowers(ctx, quoters)
	result.FollowersQueued = len(queued)

	scored, err := p.scoreFollowersBounded(ctx, rc, queued)
	result.AccountsScored = scored
	if err != nil {
		return result, err
	}

	lastSeen := newPosts[len(newPosts)-1].CreatedAt
	if err := p.Store.SetScanState(ctx, amplificationCursorKey, lastSeen.Format(time.RFC3339)); err != nil {
		return result, err
	}

	return result, nil
}

// fetchQuoteText fetches a single amplifier post's text for evidence
// display; any failure degrades to an empty string rather than
// aborting the event's persistence (spec.md §4.8's null-on-missing-
// signal discipline applied to the pipeline layer).
func (p *Pipeline) fetchQuoteText(ctx context.Context, uri string) string {
	posts, err := p.Client.FetchPostsByURI(ctx, []string{uri})
	if err != nil || len(posts) == 0 {
		return ""
	}
	return posts[0].Text
}

// collectQuoterFollowers fetches each quoter's follower list (per
// spec.md §4.9 step 2: reposts do not trigger fan-out), deduplicating
// across the whole scan and excluding the protected user.
func (p *Pipeline) collectQuoterFollowers(ctx context.Context, quoters []follower) []follower {
	var all []follower
	exclude := map[string]bool{p.ProtectedDID: true}

	for _, q := range quoters {
		actor := q.handle
		if actor == "" {
			actor = q.did
		}
		fetched, err := p.Client.FetchFollowers(ctx, actor, p.MaxFollowers)
		if err != nil {
			p.Logger.Warn("fetch followers failed; skipping amplifier", "amplifier", q.did, "err", err)
			continue
		}
		for _, f := range fetched {
			all = append(all, follower{did: f.DID, handle: f.Handle})
		}
	}

	return dedupeFollowers(all, exclude)
}
