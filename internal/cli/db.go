package cli

import (
	"context"

	"github.com/pivotloop/conductor/internal/common/config"
	"github.com/pivotloop/conductor/internal/common/database"
)

// openPostgres opens the configured database pool. Separated out so
// tests can stub the CLI's dependency wiring without a live Postgres.
func openPostgres(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	return database.NewDB(ctx, cfg.Database)
}
