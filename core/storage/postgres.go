// Networked Postgres backend, grounded on lib/pq (driver contributed to
// the DOMAIN STACK by Livepeer-FrameWorks-monorepo/pkg/go.mod in the
// example pack) and the same original_source/src/db/schema.rs table
// shapes as sqlite.go, translated to Postgres DDL (SERIAL/BIGSERIAL,
// TIMESTAMPTZ, BYTEA) and $N placeholders via postgresDialect.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
	"github.com/chaosgreml/charcoal/core/model"
)

type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and applies all pending
// migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "open postgres connection", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierExternalDegrading, "ping postgres database", err)
	}

	store := &PostgresStore{db: db}
	if err := NewMigrator(db, postgresDialect{}, postgresMigrations).Migrate(ctx); err != nil {
		db.Close()
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "run postgres migrations", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var postgresMigrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS topic_fingerprint (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					fingerprint_json TEXT NOT NULL,
					post_count INTEGER NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE TABLE IF NOT EXISTS account_scores (
					did TEXT PRIMARY KEY,
					handle TEXT NOT NULL,
					toxicity_score DOUBLE PRECISION,
					topic_overlap DOUBLE PRECISION,
					threat_score DOUBLE PRECISION,
					threat_tier TEXT,
					posts_analyzed INTEGER NOT NULL DEFAULT 0,
					top_toxic_posts TEXT,
					scored_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE TABLE IF NOT EXISTS amplification_events (
					id BIGSERIAL PRIMARY KEY,
					event_type TEXT NOT NULL,
					amplifier_did TEXT NOT NULL,
					amplifier_handle TEXT NOT NULL,
					original_post_uri TEXT NOT NULL,
					amplifier_post_uri TEXT,
					amplifier_text TEXT,
					detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					followers_fetched INTEGER NOT NULL DEFAULT 0,
					followers_scored INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS scan_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE INDEX IF NOT EXISTS idx_events_amplifier ON amplification_events(amplifier_did);
				CREATE INDEX IF NOT EXISTS idx_scores_tier ON account_scores(threat_tier);
				CREATE INDEX IF NOT EXISTS idx_scores_age ON account_scores(scored_at);
			`)
			return err
		},
	},
	{
		Version:     2,
		Description: "add embedding_vector to topic_fingerprint",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE topic_fingerprint ADD COLUMN IF NOT EXISTS embedding_vector BYTEA;`)
			return err
		},
	},
	{
		Version:     3,
		Description: "add behavioral_signals to account_scores",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE account_scores ADD COLUMN IF NOT EXISTS behavioral_signals TEXT;`)
			return err
		},
	},
}

func (s *PostgresStore) TableCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public'").Scan(&count)
	return count, err
}

func (s *PostgresStore) GetScanState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM scan_state WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) SetScanState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_state (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func (s *PostgresStore) GetAllScanState(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM scan_state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		state[k] = v
	}
	return state, rows.Err()
}

func (s *PostgresStore) SaveFingerprint(ctx context.Context, fingerprintJSON string, postCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_fingerprint (id, fingerprint_json, post_count, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			fingerprint_json = excluded.fingerprint_json,
			post_count = excluded.post_count,
			updated_at = excluded.updated_at
	`, fingerprintJSON, postCount)
	return err
}

func (s *PostgresStore) SaveEmbedding(ctx context.Context, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_fingerprint (id, fingerprint_json, post_count, embedding_vector, updated_at)
		VALUES (1, '{}', 0, $1, now())
		ON CONFLICT (id) DO UPDATE SET embedding_vector = excluded.embedding_vector, updated_at = excluded.updated_at
	`, EncodeVector(embedding))
	return err
}

func (s *PostgresStore) GetFingerprint(ctx context.Context) (string, int, bool, error) {
	var fingerprintJSON string
	var postCount int
	err := s.db.QueryRowContext(ctx, "SELECT fingerprint_json, post_count FROM topic_fingerprint WHERE id = 1").
		Scan(&fingerprintJSON, &postCount)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return fingerprintJSON, postCount, true, nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT embedding_vector FROM topic_fingerprint WHERE id = 1").Scan(&blob)
	if err == sql.ErrNoRows || (err == nil && blob == nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := DecodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *PostgresStore) UpsertAccountScore(ctx context.Context, score *model.AccountScore) error {
	topToxicJSON, err := json.Marshal(score.TopToxicPosts)
	if err != nil {
		return err
	}
	var behavioralJSON []byte
	if score.BehavioralSignals != nil {
		behavioralJSON, err = json.Marshal(score.BehavioralSignals)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_scores
			(did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
			 posts_analyzed, top_toxic_posts, scored_at, behavioral_signals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (did) DO UPDATE SET
			handle = excluded.handle,
			toxicity_score = excluded.toxicity_score,
			topic_overlap = excluded.topic_overlap,
			threat_score = excluded.threat_score,
			threat_tier = excluded.threat_tier,
			posts_analyzed = excluded.posts_analyzed,
			top_toxic_posts = excluded.top_toxic_posts,
			scored_at = excluded.scored_at,
			behavioral_signals = excluded.behavioral_signals
	`, score.DID, score.Handle, score.ToxicityScore, score.TopicOverlap, score.ThreatScore,
		nullableTier(score.ThreatTier), score.PostsAnalyzed, string(topToxicJSON),
		score.ScoredAt.UTC(), nullableJSON(behavioralJSON))
	return err
}

func (s *PostgresStore) GetRankedThreats(ctx context.Context, minScore float64) ([]model.AccountScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
		       posts_analyzed, top_toxic_posts, scored_at, behavioral_signals
		FROM account_scores
		WHERE threat_score >= $1
		ORDER BY threat_score DESC
	`, minScore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccountScoresTimestamptz(rows)
}

func (s *PostgresStore) GetAccountScore(ctx context.Context, did string) (*model.AccountScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
		       posts_analyzed, top_toxic_posts, scored_at, behavioral_signals
		FROM account_scores WHERE did = $1
	`, did)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores, err := scanAccountScoresTimestamptz(rows)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return &scores[0], nil
}

func (s *PostgresStore) IsScoreStale(ctx context.Context, did string, maxAgeDays int64) (bool, error) {
	var scoredAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT scored_at FROM account_scores WHERE did = $1", did).Scan(&scoredAt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(scoredAt) > time.Duration(maxAgeDays)*24*time.Hour, nil
}

func (s *PostgresStore) InsertAmplificationEvent(ctx context.Context, event model.AmplificationEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO amplification_events
			(event_type, amplifier_did, amplifier_handle, original_post_uri, amplifier_post_uri, amplifier_text, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt.UTC()).Scan(&id)
	return id, err
}

func (s *PostgresStore) InsertAmplificationEventRaw(ctx context.Context, event model.AmplificationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO amplification_events
			(id, event_type, amplifier_did, amplifier_handle, original_post_uri, amplifier_post_uri, amplifier_text, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt.UTC())
	return err
}

func (s *PostgresStore) GetRecentEvents(ctx context.Context, limit int) ([]model.AmplificationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
		       amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		ORDER BY detected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventsTimestamptz(rows)
}

func (s *PostgresStore) GetEventsForPileOn(ctx context.Context) ([]model.AmplificationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
		       amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		ORDER BY original_post_uri, detected_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventsTimestamptz(rows)
}

func (s *PostgresStore) GetMedianEngagement(ctx context.Context) (float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT behavioral_signals FROM account_scores
		WHERE behavioral_signals IS NOT NULL
	`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	return medianEngagementFromRows(rows)
}
