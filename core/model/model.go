// Package model holds the entities Charcoal persists and passes between
// components. Field names and nullability follow spec.md §3 exactly.
package model

import "time"

// ToxicPost is an evidence record attached to a scored account. Immutable
// once created.
type ToxicPost struct {
	URI      string  `json:"uri"`
	Text     string  `json:"text"`
	Toxicity float64 `json:"toxicity"`
}

// TopicCluster is a group of co-occurring keywords with a label and a
// normalized weight. Cluster weights across a fingerprint sum to <= 1.0.
type TopicCluster struct {
	Label    string         `json:"label"`
	Keywords []WeightedTerm `json:"keywords"`
	Weight   float64        `json:"weight"`
}

// WeightedTerm is a single keyword with its TF-IDF-derived score.
type WeightedTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// TopicFingerprint is the protected user's topic profile: a ranked list of
// clusters plus a dense centroid embedding.
type TopicFingerprint struct {
	Clusters  []TopicCluster `json:"clusters"`
	PostCount int            `json:"post_count"`
	// Centroid is the L2-normalized mean embedding across the posts used
	// to build this fingerprint. Nil if the embedding model was
	// unavailable when the fingerprint was built.
	Centroid []float32 `json:"centroid,omitempty"`
}

// KeywordWeights flattens the fingerprint's clusters into a single
// term->weight map, distributing each cluster's weight evenly across its
// keywords. Used by the overlap calculator's weighted-Jaccard fallback.
func (f *TopicFingerprint) KeywordWeights() map[string]float64 {
	weights := make(map[string]float64)
	for _, cluster := range f.Clusters {
		if len(cluster.Keywords) == 0 {
			continue
		}
		perKeyword := cluster.Weight / float64(len(cluster.Keywords))
		for _, kw := range cluster.Keywords {
			weights[kw.Term] += perKeyword
		}
	}
	return weights
}

// BehavioralSignals captures the non-toxicity, non-overlap signals that
// feed the behavioral modifier.
type BehavioralSignals struct {
	QuoteRatio        float64 `json:"quote_ratio"`
	ReplyRatio        float64 `json:"reply_ratio"`
	AvgEngagement     float64 `json:"avg_engagement"`
	PileOn            bool    `json:"pile_on"`
	BenignGateApplied bool    `json:"benign_gate_applied"`
	BehavioralBoost   float64 `json:"behavioral_boost"`
}

// DefaultBehavioralSignals returns the zero-value signals with boost at
// its floor, matching the original's Default impl.
func DefaultBehavioralSignals() BehavioralSignals {
	return BehavioralSignals{BehavioralBoost: 1.0}
}

// ThreatTier is one of the four ranked outcomes of threat score
// composition.
type ThreatTier string

const (
	TierLow      ThreatTier = "Low"
	TierWatch    ThreatTier = "Watch"
	TierElevated ThreatTier = "Elevated"
	TierHigh     ThreatTier = "High"
)

// TierFromScore derives a tier from a final score in [0, 100]. Total over
// the whole domain: every finite score maps to exactly one tier.
func TierFromScore(score float64) ThreatTier {
	switch {
	case score < 8:
		return TierLow
	case score < 15:
		return TierWatch
	case score < 25:
		return TierElevated
	default:
		return TierHigh
	}
}

// AccountScore is the central entity: a scored account, keyed by DID.
// Upserted by the profile builder, never deleted.
type AccountScore struct {
	DID               string             `json:"did"`
	Handle            string             `json:"handle"`
	ToxicityScore     *float64           `json:"toxicity_score"`
	TopicOverlap      *float64           `json:"topic_overlap"`
	ThreatScore       *float64           `json:"threat_score"`
	ThreatTier        *ThreatTier        `json:"threat_tier"`
	PostsAnalyzed     int                `json:"posts_analyzed"`
	TopToxicPosts     []ToxicPost        `json:"top_toxic_posts"`
	ScoredAt          time.Time          `json:"scored_at"`
	BehavioralSignals *BehavioralSignals `json:"behavioral_signals"`
}

// AmplificationEventType distinguishes a quote from a repost.
type AmplificationEventType string

const (
	EventQuote  AmplificationEventType = "quote"
	EventRepost AmplificationEventType = "repost"
)

// AmplificationEvent is a single quote-or-repost record against a
// protected post. Append-only; ids are monotonically assigned by the
// storage backend.
type AmplificationEvent struct {
	ID               int64                  `json:"id"`
	EventType        AmplificationEventType `json:"event_type"`
	AmplifierDID     string                 `json:"amplifier_did"`
	AmplifierHandle  string                 `json:"amplifier_handle"`
	OriginalPostURI  string                 `json:"original_post_uri"`
	AmplifierPostURI *string                `json:"amplifier_post_uri"`
	AmplifierText    *string                `json:"amplifier_text"`
	DetectedAt       time.Time              `json:"detected_at"`
}

// Post is a single fetched post, as returned by the network client.
type Post struct {
	URI         string
	Text        string
	CreatedAt   time.Time
	LikeCount   int
	RepostCount int
	QuoteCount  int
	IsQuote     bool
}

// ValidationResult is the per-account outcome of the supplemental
// `validate` command: did Charcoal's own scoring flag an account the
// protected user manually blocked?
type ValidationResult struct {
	Handle      string      `json:"handle"`
	DID         string      `json:"did"`
	ThreatScore *float64    `json:"threat_score"`
	ThreatTier  *ThreatTier `json:"threat_tier"`
	Detected    bool        `json:"detected"`
}

// ValidationSummary aggregates ValidationResults into a detection rate.
type ValidationSummary struct {
	TotalChecked  int                `json:"total_checked"`
	DetectedCount int                `json:"detected_count"`
	DetectionRate float64            `json:"detection_rate"`
	Results       []ValidationResult `json:"results"`
}

// BlockedAccount is one entry from the protected user's own block list,
// as returned by the authenticated session the validate command borrows.
type BlockedAccount struct {
	DID    string
	Handle string
}
