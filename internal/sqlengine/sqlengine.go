// Package sqlengine implements the SqlEngine component of spec.md §4.3: an
// embedded analytical SQL engine over modernc.org/sqlite, accessed only
// through named-parameter binding so an endpoint's declared parameters can
// never be concatenated into SQL text (spec.md §9 design note).
//
// Grounded on docker-mcp-gateway's pkg/db/db.go for the sqlx.NewDb +
// modernc.org/sqlite wiring pattern (that repo pairs them with
// golang-migrate; this package pairs them with pressly/goose, the migration
// library already used elsewhere in this gateway's ambient stack).
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/mxcp-io/mxcp-core/internal/mxerr"
	"github.com/mxcp-io/mxcp-core/internal/value"
)

// NamedParam is one bound SQL parameter. SQLite's native "$name"/":name"/
// "@name" placeholder syntax lets an endpoint's inline SQL reference
// parameters directly by name (e.g. "SELECT $price * ..."), so Execute
// never builds SQL text by string concatenation.
type NamedParam struct {
	Name  string
	Value any
}

// Engine is one ReloadGeneration's SqlEngine: a single *sqlx.DB (SQLite
// serializes writers internally; the pool abstraction exists so a future
// generation can point at a different engine/DSN without touching callers).
type Engine struct {
	db *sqlx.DB
}

// Config describes how to open the embedded database.
type Config struct {
	// DSN is the sqlite data source, e.g. "file:/var/lib/mxcp/mxcp.db" or
	// "file::memory:?cache=shared" for ephemeral/test use.
	DSN string
	// BusyTimeout bounds how long a writer waits for SQLite's single-writer
	// lock before failing, rather than blocking a request indefinitely.
	BusyTimeout time.Duration
}

// Open establishes the engine's connection pool and applies sane SQLite
// pragmas for a single-process embedded deployment.
func Open(cfg Config) (*Engine, error) {
	busyMS := int(cfg.BusyTimeout / time.Millisecond)
	if busyMS <= 0 {
		busyMS = 5000
	}
	separator := "?"
	if strings.Contains(cfg.DSN, "?") {
		separator = "&"
	}
	dsn := fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", cfg.DSN, separator, busyMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, mxerr.Newf(mxerr.Internal, err, "sqlengine: opening %s", cfg.DSN)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Engine{db: sqlx.NewDb(db, "sqlite")}, nil
}

// RecordReload appends one row to mxcp_reload_log, so an endpoint's own SQL
// can introspect this generation's reload history (e.g. "when did the
// registry I'm querying against last change") the same way it queries any
// other table. internal/reload calls this once per successful build.
func (e *Engine) RecordReload(ctx context.Context, seq int64, builtAt time.Time, endpointCount int) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO mxcp_reload_log (seq, built_at, endpoint_count) VALUES ($seq, $built_at, $count)`,
		sql.Named("seq", seq), sql.Named("built_at", builtAt.UTC().Format(time.RFC3339)), sql.Named("count", endpointCount))
	if err != nil {
		return mxerr.New(mxerr.Internal, "sqlengine: recording reload log entry", err)
	}
	return nil
}

// Close releases the underlying connection pool. Called when a
// ReloadGeneration is fully drained and superseded (internal/reload).
func (e *Engine) Close() error {
	return e.db.Close()
}

// Execute runs sqlText with the given named parameters and returns the
// result set as an ordered value.Value array-of-objects, suitable for
// PolicyEvaluator.EvaluateOutput and JSON marshaling back to the MCP client.
func (e *Engine) Execute(ctx context.Context, sqlText string, params []NamedParam) (value.Value, error) {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = sql.Named(p.Name, p.Value)
	}

	rows, err := e.db.QueryxContext(ctx, sqlText, args...)
	if err != nil {
		return value.Null(), mxerr.New(mxerr.ExecutionError, "SQL execution failed", err)
	}
	defer rows.Close()

	var results []value.Value
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return value.Null(), mxerr.New(mxerr.ExecutionError, "SQL row scan failed", err)
		}
		normalized := make(map[string]any, len(row))
		for k, v := range row {
			normalized[k] = normalizeSQLiteValue(v)
		}
		rowValue, err := value.FromNative(normalized)
		if err != nil {
			return value.Null(), mxerr.New(mxerr.ExecutionError, "SQL row conversion failed", err)
		}
		results = append(results, rowValue)
	}
	if err := rows.Err(); err != nil {
		return value.Null(), mxerr.New(mxerr.ExecutionError, "SQL row iteration failed", err)
	}

	return value.Array(results), nil
}

// normalizeSQLiteValue converts driver-native types (notably []byte for
// TEXT columns under modernc.org/sqlite) into the scalar types
// value.FromNative understands.
func normalizeSQLiteValue(v any) any {
	switch vv := v.(type) {
	case []byte:
		return string(vv)
	case int64:
		return float64(vv)
	default:
		return vv
	}
}
