// Package profile orchestrates a single account's scoring: fetch posts,
// score toxicity, embed for topic overlap, derive behavioral signals,
// compose the threat score, and persist. Grounded precisely on
// spec.md §4.8's nine-step algorithm and, for the step ordering and
// null-on-missing-signal contract, original_source/src/scoring/profile.rs.
package profile

import (
	"context"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/chaosgreml/charcoal/core/behavioral"
	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/model"
	"github.com/chaosgreml/charcoal/core/netclient"
	"github.com/chaosgreml/charcoal/core/overlap"
	"github.com/chaosgreml/charcoal/core/scoring"
	"github.com/chaosgreml/charcoal/core/storage"
	"github.com/chaosgreml/charcoal/core/topics"
	"github.com/chaosgreml/charcoal/core/toxicity"
)

const (
	defaultPostLimit  = 50
	topToxicPostCount = 3
	toxicPostMaxRunes = 400
)

// Builder wires together the engines and dependencies a profile build
// needs. A zero-value Builder is not usable; construct with NewBuilder.
type Builder struct {
	Client          *netclient.Client
	Embedding       *embedding.Engine
	Toxicity        *toxicity.Engine
	Store           storage.Database
	BehavioralRules behavioral.Thresholds
	ScoreWeights    scoring.Weights
	PostLimit       int
	Logger          *slog.Logger
}

// NewBuilder constructs a Builder with spec.md-default thresholds and
// weights; callers may override PostLimit, BehavioralRules, and
// ScoreWeights from config before use.
func NewBuilder(client *netclient.Client, embed *embedding.Engine, tox *toxicity.Engine, store storage.Database, logger *slog.Logger) *Builder {
	return &Builder{
		Client:          client,
		Embedding:       embed,
		Toxicity:        tox,
		Store:           store,
		BehavioralRules: behavioral.DefaultThresholds(),
		ScoreWeights:    scoring.DefaultWeights(),
		PostLimit:       defaultPostLimit,
		Logger:          logger,
	}
}

// Context bundles the per-run inputs shared across every account a
// single pipeline invocation scores, so the caller computes them once
// rather than per account.
type Context struct {
	Fingerprint       *model.TopicFingerprint
	ProtectedCentroid []float32
	MedianEngagement  float64
	PileOnDIDs        map[string]bool
}

// Build runs the nine-step profile algorithm for one account and
// persists the result. Per spec.md §4.8, any failure besides
// persistence degrades that step's signal to null/neutral rather than
// aborting the whole build.
func (b *Builder) Build(ctx context.Context, did, handle string, rc Context) (*model.AccountScore, error) {
	log := b.Logger.With("did", did, "handle", handle)

	posts, err := b.Client.FetchRecentPosts(ctx, did, b.PostLimit)
	if err != nil {
		log.Warn("fetch recent posts failed; scoring with no signal", "err", err)
		posts = nil
	}

	score := &model.AccountScore{
		DID:           did,
		Handle:        handle,
		PostsAnalyzed: len(posts),
		ScoredAt:      nowUTC(),
	}

	if len(posts) == 0 {
		if err := b.Store.UpsertAccountScore(ctx, score); err != nil {
			return nil, err
		}
		return score, nil
	}

	toxResults, topToxic := b.scoreToxicity(ctx, log, posts)
	avgToxicity := toxicity.AverageComposite(toxResults)

	topicOverlap := b.computeOverlap(ctx, log, posts, rc.Fingerprint, rc.ProtectedCentroid)

	signals := b.computeBehavioralSignals(ctx, log, did, posts, rc)

	raw := scoring.ComputeRawThreatScore(avgToxicity, topicOverlap, b.ScoreWeights)
	final, benignGateApplied := behavioral.ApplyBehavioralModifier(
		raw, signals.QuoteRatio, signals.ReplyRatio, signals.PileOn,
		signals.AvgEngagement, rc.MedianEngagement, b.BehavioralRules)
	signals.BenignGateApplied = benignGateApplied
	if !benignGateApplied {
		signals.BehavioralBoost = behavioral.ComputeBehavioralBoost(signals.QuoteRatio, signals.ReplyRatio, signals.PileOn)
	} else {
		signals.BehavioralBoost = 1.0
	}

	tier := model.TierFromScore(final)

	score.ToxicityScore = &avgToxicity
	score.TopicOverlap = &topicOverlap
	score.ThreatScore = &final
	score.ThreatTier = &tier
	score.TopToxicPosts = topToxic
	score.BehavioralSignals = &signals

	if err := b.Store.UpsertAccountScore(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// scoreToxicity scores every post for toxicity and returns the three
// most-toxic posts (by composite, descending), each truncated to at
// most 400 runes on a code-point boundary.
func (b *Builder) scoreToxicity(ctx context.Context, log *slog.Logger, posts []model.Post) ([]toxicity.Result, []model.ToxicPost) {
	if err := b.Toxicity.EnsureLoaded(ctx); err != nil {
		log.Warn("toxicity engine unavailable; treating posts as unscored", "err", err)
		return nil, nil
	}

	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Text
	}

	results, err := b.Toxicity.ScoreBatch(ctx, texts)
	if err != nil {
		log.Warn("toxicity scoring failed", "err", err)
		return nil, nil
	}

	type scoredPost struct {
		post   model.Post
		result toxicity.Result
	}
	scored := make([]scoredPost, len(results))
	for i, r := range results {
		scored[i] = scoredPost{post: posts[i], result: r}
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].result.Composite > scored[j].result.Composite
	})

	n := topToxicPostCount
	if n > len(scored) {
		n = len(scored)
	}
	top := make([]model.ToxicPost, n)
	for i := 0; i < n; i++ {
		top[i] = model.ToxicPost{
			URI:      scored[i].post.URI,
			Text:     truncateRunes(scored[i].post.Text, toxicPostMaxRunes),
			Toxicity: scored[i].result.Composite,
		}
	}
	return results, top
}

// computeOverlap embeds the target's posts to build a centroid, then
// compares against the protected centroid via cosine similarity. Falls
// back to a weighted-Jaccard-style keyword comparison when the
// embedding model is unavailable, per spec.md §4.8 step 4.
func (b *Builder) computeOverlap(ctx context.Context, log *slog.Logger, posts []model.Post, fingerprint *model.TopicFingerprint, protectedCentroid []float32) float64 {
	if err := b.Embedding.EnsureLoaded(ctx); err == nil {
		texts := make([]string, len(posts))
		for i, p := range posts {
			texts[i] = p.Text
		}
		vectors, err := b.Embedding.EmbedBatch(ctx, texts)
		if err == nil && len(vectors) > 0 && len(protectedCentroid) > 0 {
			targetCentroid := embedding.MeanVector(vectors)
			cosine := overlap.CosineSimilarity(targetCentroid, protectedCentroid)
			return overlap.PositiveOverlap(cosine)
		}
		if err != nil {
			log.Warn("embedding batch failed; falling back to keyword overlap", "err", err)
		}
	} else {
		log.Warn("embedding engine unavailable; falling back to keyword overlap", "err", err)
	}

	if fingerprint == nil {
		return 0
	}
	targetTerms := keywordWeightsForPosts(posts)
	if targetTerms == nil {
		return 0
	}
	return overlap.KeywordOverlap(targetTerms, fingerprint.KeywordWeights())
}

// keywordWeightsForPosts runs the same TF-IDF extractor the fingerprint
// builder uses over the target account's own posts, so the fallback
// overlap comparison operates on a comparable keyword space. Returns
// nil if there isn't enough text to extract anything.
func keywordWeightsForPosts(posts []model.Post) map[string]float64 {
	docs := make([]string, 0, len(posts))
	for _, p := range posts {
		if p.Text != "" {
			docs = append(docs, p.Text)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	fp, err := topics.DefaultExtractor().Extract(docs)
	if err != nil {
		return nil
	}
	return fp.KeywordWeights()
}

// computeBehavioralSignals fetches the reply-ratio sample and derives
// quote/reply ratios, engagement, and pile-on participation.
func (b *Builder) computeBehavioralSignals(ctx context.Context, log *slog.Logger, did string, posts []model.Post, rc Context) model.BehavioralSignals {
	signals := model.DefaultBehavioralSignals()

	quoteCount := 0
	for _, p := range posts {
		if p.IsQuote {
			quoteCount++
		}
	}
	signals.QuoteRatio = behavioral.ComputeQuoteRatio(quoteCount, len(posts))
	signals.AvgEngagement = behavioral.ComputeAvgEngagement(posts)

	sample, err := b.Client.FetchReplySample(ctx, did)
	if err != nil {
		log.Warn("fetch reply sample failed; treating reply ratio as 0", "err", err)
	} else {
		signals.ReplyRatio = behavioral.ComputeReplyRatio(sample.ReplyCount, sample.Total)
	}

	if rc.PileOnDIDs != nil {
		signals.PileOn = rc.PileOnDIDs[did]
	}

	return signals
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	var count int
	for i := range s {
		if count == maxRunes {
			return s[:i]
		}
		count++
	}
	return s
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
