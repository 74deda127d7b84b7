// Package storage implements Charcoal's dual-backend persistence layer:
// an embedded SQLite store for single-operator deployments and a
// networked Postgres store for shared deployments, behind one
// interface. Grounded on original_source/src/db/traits.rs (method
// signatures) and original_source/src/db/schema.rs (table shapes,
// migration numbering), adapted to Go's database/sql idiom the way the
// teacher's core/database/manager.go wraps a *sql.DB.
package storage

import (
	"context"

	"github.com/chaosgreml/charcoal/core/model"
)

// Database is the backend-agnostic persistence interface every
// component outside this package depends on. Two concrete
// implementations exist — SQLiteStore and PostgresStore — selected at
// startup by config.Config.UsesNetworkedBackend, per spec.md §9's
// closed-sum-type guidance for polymorphism over the storage layer.
type Database interface {
	// Lifecycle.
	TableCount(ctx context.Context) (int64, error)
	Close() error

	// Scan state.
	GetScanState(ctx context.Context, key string) (string, bool, error)
	SetScanState(ctx context.Context, key, value string) error
	// GetAllScanState is a supplemental operation (spec.md has no
	// equivalent) used by the `status` command to display every tracked
	// cursor without needing to know the key set in advance.
	GetAllScanState(ctx context.Context) (map[string]string, error)

	// Topic fingerprint.
	SaveFingerprint(ctx context.Context, fingerprintJSON string, postCount int) error
	SaveEmbedding(ctx context.Context, embedding []float32) error
	GetFingerprint(ctx context.Context) (fingerprintJSON string, postCount int, found bool, err error)
	GetEmbedding(ctx context.Context) ([]float32, bool, error)

	// Account scores.
	UpsertAccountScore(ctx context.Context, score *model.AccountScore) error
	GetRankedThreats(ctx context.Context, minScore float64) ([]model.AccountScore, error)
	GetAccountScore(ctx context.Context, did string) (*model.AccountScore, error)
	IsScoreStale(ctx context.Context, did string, maxAge int64) (bool, error)

	// Amplification events.
	InsertAmplificationEvent(ctx context.Context, event model.AmplificationEvent) (int64, error)
	// InsertAmplificationEventRaw inserts event preserving its original
	// ID and DetectedAt exactly, for use only by the migrate command;
	// ordinary ingestion always goes through InsertAmplificationEvent
	// and lets the backend assign both.
	InsertAmplificationEventRaw(ctx context.Context, event model.AmplificationEvent) error
	GetRecentEvents(ctx context.Context, limit int) ([]model.AmplificationEvent, error)
	GetEventsForPileOn(ctx context.Context) ([]model.AmplificationEvent, error)

	// Behavioral context.
	GetMedianEngagement(ctx context.Context) (float64, error)
}

// IntegrityChecker is implemented only by SQLiteStore — Postgres has no
// single-command equivalent of PRAGMA integrity_check. Callers (the
// status command) type-assert for it rather than finding it on
// Database directly.
type IntegrityChecker interface {
	IntegrityCheck(ctx context.Context) error
}
