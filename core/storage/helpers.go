package storage

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/chaosgreml/charcoal/core/model"
)

func nullableTier(tier *model.ThreatTier) any {
	if tier == nil {
		return nil
	}
	return string(*tier)
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// accountScoreRows abstracts *sql.Rows so both backends can share the
// same scan loop.
type accountScoreRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAccountScores(rows accountScoreRows) ([]model.AccountScore, error) {
	var scores []model.AccountScore
	for rows.Next() {
		var (
			did, handle            string
			toxicity, overlap, thr sql.NullFloat64
			tier                   sql.NullString
			postsAnalyzed          int
			topToxicJSON           sql.NullString
			scoredAt               string
			behavioralJSON         sql.NullString
		)
		if err := rows.Scan(&did, &handle, &toxicity, &overlap, &thr, &tier,
			&postsAnalyzed, &topToxicJSON, &scoredAt, &behavioralJSON); err != nil {
			return nil, err
		}

		score := model.AccountScore{
			DID:           did,
			Handle:        handle,
			PostsAnalyzed: postsAnalyzed,
		}
		if toxicity.Valid {
			v := toxicity.Float64
			score.ToxicityScore = &v
		}
		if overlap.Valid {
			v := overlap.Float64
			score.TopicOverlap = &v
		}
		if thr.Valid {
			v := thr.Float64
			score.ThreatScore = &v
		}
		if tier.Valid {
			t := model.ThreatTier(tier.String)
			score.ThreatTier = &t
		}
		if topToxicJSON.Valid && topToxicJSON.String != "" {
			var posts []model.ToxicPost
			if err := json.Unmarshal([]byte(topToxicJSON.String), &posts); err == nil {
				score.TopToxicPosts = posts
			}
		}
		if t, err := parseTimestamp(scoredAt); err == nil {
			score.ScoredAt = t
		}
		if behavioralJSON.Valid && behavioralJSON.String != "" {
			var signals model.BehavioralSignals
			if err := json.Unmarshal([]byte(behavioralJSON.String), &signals); err == nil {
				score.BehavioralSignals = &signals
			}
		}

		scores = append(scores, score)
	}
	return scores, rows.Err()
}

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]model.AmplificationEvent, error) {
	var events []model.AmplificationEvent
	for rows.Next() {
		var (
			id                              int64
			eventType, amplifierDID, handle string
			originalURI                     string
			amplifierPostURI, amplifierText sql.NullString
			detectedAt                      string
		)
		if err := rows.Scan(&id, &eventType, &amplifierDID, &handle, &originalURI,
			&amplifierPostURI, &amplifierText, &detectedAt); err != nil {
			return nil, err
		}

		event := model.AmplificationEvent{
			ID:              id,
			EventType:       model.AmplificationEventType(eventType),
			AmplifierDID:    amplifierDID,
			AmplifierHandle: handle,
			OriginalPostURI: originalURI,
		}
		if amplifierPostURI.Valid {
			v := amplifierPostURI.String
			event.AmplifierPostURI = &v
		}
		if amplifierText.Valid {
			v := amplifierText.String
			event.AmplifierText = &v
		}
		if t, err := parseTimestamp(detectedAt); err == nil {
			event.DetectedAt = t
		}

		events = append(events, event)
	}
	return events, rows.Err()
}

type engagementRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// medianEngagementFromRows decodes each row's behavioral_signals JSON
// blob and computes the median avg_engagement via gonum/stat, which
// requires a sorted slice.
func medianEngagementFromRows(rows engagementRows) (float64, error) {
	var engagements []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		var signals model.BehavioralSignals
		if err := json.Unmarshal([]byte(raw), &signals); err != nil {
			continue
		}
		engagements = append(engagements, signals.AvgEngagement)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(engagements) == 0 {
		return 0, nil
	}

	sort.Float64s(engagements)
	return stat.Quantile(0.5, stat.Empirical, engagements, nil), nil
}

// scanAccountScoresTimestamptz mirrors scanAccountScores but scans
// scored_at into a time.Time, matching how lib/pq surfaces a
// TIMESTAMPTZ column (as opposed to SQLite's TEXT-encoded timestamp).
func scanAccountScoresTimestamptz(rows accountScoreRows) ([]model.AccountScore, error) {
	var scores []model.AccountScore
	for rows.Next() {
		var (
			did, handle            string
			toxicity, overlap, thr sql.NullFloat64
			tier                   sql.NullString
			postsAnalyzed          int
			topToxicJSON           sql.NullString
			scoredAt               time.Time
			behavioralJSON         sql.NullString
		)
		if err := rows.Scan(&did, &handle, &toxicity, &overlap, &thr, &tier,
			&postsAnalyzed, &topToxicJSON, &scoredAt, &behavioralJSON); err != nil {
			return nil, err
		}

		score := model.AccountScore{
			DID:           did,
			Handle:        handle,
			PostsAnalyzed: postsAnalyzed,
			ScoredAt:      scoredAt,
		}
		if toxicity.Valid {
			v := toxicity.Float64
			score.ToxicityScore = &v
		}
		if overlap.Valid {
			v := overlap.Float64
			score.TopicOverlap = &v
		}
		if thr.Valid {
			v := thr.Float64
			score.ThreatScore = &v
		}
		if tier.Valid {
			t := model.ThreatTier(tier.String)
			score.ThreatTier = &t
		}
		if topToxicJSON.Valid && topToxicJSON.String != "" {
			var posts []model.ToxicPost
			if err := json.Unmarshal([]byte(topToxicJSON.String), &posts); err == nil {
				score.TopToxicPosts = posts
			}
		}
		if behavioralJSON.Valid && behavioralJSON.String != "" {
			var signals model.BehavioralSignals
			if err := json.Unmarshal([]byte(behavioralJSON.String), &signals); err == nil {
				score.BehavioralSignals = &signals
			}
		}

		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// scanEventsTimestamptz mirrors scanEvents for the detected_at
// TIMESTAMPTZ column.
func scanEventsTimestamptz(rows eventRows) ([]model.AmplificationEvent, error) {
	var events []model.AmplificationEvent
	for rows.Next() {
		var (
			id                              int64
			eventType, amplifierDID, handle string
			originalURI                     string
			amplifierPostURI, amplifierText sql.NullString
			detectedAt                      time.Time
		)
		if err := rows.Scan(&id, &eventType, &amplifierDID, &handle, &originalURI,
			&amplifierPostURI, &amplifierText, &detectedAt); err != nil {
			return nil, err
		}

		event := model.AmplificationEvent{
			ID:              id,
			EventType:       model.AmplificationEventType(eventType),
			AmplifierDID:    amplifierDID,
			AmplifierHandle: handle,
			OriginalPostURI: originalURI,
			DetectedAt:      detectedAt,
		}
		if amplifierPostURI.Valid {
			v := amplifierPostURI.String
			event.AmplifierPostURI = &v
		}
		if amplifierText.Valid {
			v := amplifierText.String
			event.AmplifierText = &v
		}

		events = append(events, event)
	}
	return events, rows.Err()
}
