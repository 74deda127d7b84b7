// Embedded SQLite backend. Grounded on the teacher's
// core/database/manager.go for the DSN/pragma construction (WAL,
// foreign keys, busy timeout) and original_source/src/db/schema.rs for
// table shape, translated from rusqlite to database/sql.
//
// Deviation from schema.rs: embedding_vector is stored as a BLOB via
// EncodeVector/DecodeVector rather than a JSON-text float array, which
// the original used because rusqlite had no convenient binary codec at
// hand. Packing to raw IEEE-754 bytes avoids the formatting/parsing
// overhead of 384 JSON floats on every fingerprint load.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
	"github.com/chaosgreml/charcoal/core/model"
)

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) an embedded database at path
// and applies all pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create database directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=30000&_journal_mode=WAL&_foreign_keys=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "open sqlite database", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid SQLITE_BUSY storms

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierExternalDegrading, "ping sqlite database", err)
	}

	store := &SQLiteStore{db: db}
	if err := NewMigrator(db, sqliteDialect{}, sqliteMigrations).Migrate(ctx); err != nil {
		db.Close()
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "run sqlite migrations", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var sqliteMigrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS topic_fingerprint (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					fingerprint_json TEXT NOT NULL,
					post_count INTEGER NOT NULL,
					created_at TEXT NOT NULL DEFAULT (datetime('now')),
					updated_at TEXT NOT NULL DEFAULT (datetime('now'))
				);

				CREATE TABLE IF NOT EXISTS account_scores (
					did TEXT PRIMARY KEY,
					handle TEXT NOT NULL,
					toxicity_score REAL,
					topic_overlap REAL,
					threat_score REAL,
					threat_tier TEXT,
					posts_analyzed INTEGER NOT NULL DEFAULT 0,
					top_toxic_posts TEXT,
					scored_at TEXT NOT NULL DEFAULT (datetime('now'))
				);

				CREATE TABLE IF NOT EXISTS amplification_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					event_type TEXT NOT NULL,
					amplifier_did TEXT NOT NULL,
					amplifier_handle TEXT NOT NULL,
					original_post_uri TEXT NOT NULL,
					amplifier_post_uri TEXT,
					amplifier_text TEXT,
					detected_at TEXT NOT NULL DEFAULT (datetime('now')),
					followers_fetched INTEGER NOT NULL DEFAULT 0,
					followers_scored INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS scan_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TEXT NOT NULL DEFAULT (datetime('now'))
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
			_, err := tx.Exec(`ALTER TABLE topic_fingerprint ADD COLUMN embedding_vector BLOB;`)
			return err
		},
	},
	{
		Version:     3,
		Description: "add behavioral_signals to account_scores",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE account_scores ADD COLUMN behavioral_signals TEXT;`)
			return err
		},
	},
}

func (s *SQLiteStore) TableCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&count)
	return count, err
}

// IntegrityCheck runs SQLite's built-in consistency check, grounded on
// the teacher's core/database/manager.go Pool.IntegrityCheck. Postgres
// has no single-command equivalent, so this is exposed only on
// SQLiteStore rather than the shared Database interface; callers that
// want it (the status command) type-assert for IntegrityChecker.
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierExternalDegrading, "run integrity check", err)
	}
	if result != "ok" {
		return charcoalerr.WrapWithTier(charcoalerr.TierExternalDegrading,
			fmt.Sprintf("integrity check failed: %s", result), charcoalerr.ErrStorageUnavailable)
	}
	return nil
}

func (s *SQLiteStore) GetScanState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM scan_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) SetScanState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_state (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func (s *SQLiteStore) GetAllScanState(ctx context.Context) (map[string]string, error) {
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

func (s *SQLiteStore) SaveFingerprint(ctx context.Context, fingerprintJSON string, postCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_fingerprint (id, fingerprint_json, post_count, updated_at)
		VALUES (1, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			fingerprint_json = excluded.fingerprint_json,
			post_count = excluded.post_count,
			updated_at = excluded.updated_at
	`, fingerprintJSON, postCount)
	return err
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_fingerprint (id, fingerprint_json, post_count, embedding_vector, updated_at)
		VALUES (1, '{}', 0, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET embedding_vector = excluded.embedding_vector, updated_at = excluded.updated_at
	`, EncodeVector(embedding))
	return err
}

func (s *SQLiteStore) GetFingerprint(ctx context.Context) (string, int, bool, error) {
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

func (s *SQLiteStore) GetEmbedding(ctx context.Context) ([]float32, bool, error) {
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

func (s *SQLiteStore) UpsertAccountScore(ctx context.Context, score *model.AccountScore) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
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
		score.ScoredAt.UTC().Format(time.RFC3339), nullableJSON(behavioralJSON))
	return err
}

func (s *SQLiteStore) GetRankedThreats(ctx context.Context, minScore float64) ([]model.AccountScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
		       posts_analyzed, top_toxic_posts, scored_at, behavioral_signals
		FROM account_scores
		WHERE threat_score >= ?
		ORDER BY threat_score DESC
	`, minScore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccountScores(rows)
}

func (s *SQLiteStore) GetAccountScore(ctx context.Context, did string) (*model.AccountScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, handle, toxicity_score, topic_overlap, threat_score, threat_tier,
		       posts_analyzed, top_toxic_posts, scored_at, behavioral_signals
		FROM account_scores WHERE did = ?
	`, did)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores, err := scanAccountScores(rows)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return &scores[0], nil
}

func (s *SQLiteStore) IsScoreStale(ctx context.Context, did string, maxAgeDays int64) (bool, error) {
	var scoredAt string
	err := s.db.QueryRowContext(ctx, "SELECT scored_at FROM account_scores WHERE did = ?", did).Scan(&scoredAt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	t, err := parseTimestamp(scoredAt)
	if err != nil {
		return true, nil
	}
	return time.Since(t) > time.Duration(maxAgeDays)*24*time.Hour, nil
}

func (s *SQLiteStore) InsertAmplificationEvent(ctx context.Context, event model.AmplificationEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO amplification_events
			(event_type, amplifier_did, amplifier_handle, original_post_uri, amplifier_post_uri, amplifier_text, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertAmplificationEventRaw(ctx context.Context, event model.AmplificationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO amplification_events
			(id, event_type, amplifier_did, amplifier_handle, original_post_uri, amplifier_post_uri, amplifier_text, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.EventType), event.AmplifierDID, event.AmplifierHandle, event.OriginalPostURI,
		event.AmplifierPostURI, event.AmplifierText, event.DetectedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetRecentEvents(ctx context.Context, limit int) ([]model.AmplificationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, amplifier_did, amplifier_handle, original_post_uri,
		       amplifier_post_uri, amplifier_text, detected_at
		FROM amplification_events
		ORDER BY detected_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) GetEventsForPileOn(ctx context.Context) ([]model.AmplificationEvent, error) {
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
	return scanEvents(rows)
}

func (s *SQLiteStore) GetMedianEngagement(ctx context.Context) (float64, error) {
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
