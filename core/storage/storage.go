package storage

import (
	"context"

	"github.com/chaosgreml/charcoal/core/config"
)

// Open selects a backend by inspecting cfg's database URL and connects
// to it, applying migrations. Grounded on spec.md §9's closed-sum-type
// guidance: exactly two concrete variants behind the Database
// interface, chosen here rather than at every call site.
func Open(ctx context.Context, cfg *config.Config) (Database, error) {
	if cfg.UsesNetworkedBackend() {
		return OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return OpenSQLite(ctx, cfg.DBPath)
}
