package sqlengine

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/mxcp-io/mxcp-core/internal/mxerr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies this module's own bookkeeping schema (currently just
// mxcp_reload_log) via pressly/goose, grounded on docker-mcp-gateway's
// pkg/db/db.go embed.FS + migration-runner pattern but substituting goose
// for golang-migrate since goose is this gateway's own migration dependency.
// It runs once per Open, before the caller ever sees the *Engine, so an
// endpoint's SQL never races a schema that isn't fully up to date.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return mxerr.Newf(mxerr.Internal, err, "sqlengine: selecting goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return mxerr.Newf(mxerr.Internal, err, "sqlengine: running migrations")
	}
	return nil
}
