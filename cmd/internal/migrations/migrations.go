// Package migrations embeds the SQL schema and applies it with goose.
//
// Migrations are written without schema qualifiers; Open pins search_path to
// the configured schema, so the same files serve the app schema and the
// per-test schemas created by pgtest.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

const dir = "sql"

var (
	// goose keeps its base FS and dialect in package globals.
	gooseMu sync.Mutex

	schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Open returns a database/sql handle whose connections use schema as search_path.
// The schema is created when missing.
func Open(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	schema = strings.TrimSpace(schema)
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("migrations: invalid schema %q", schema)
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: parse dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*cfg)
	if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}
	return db, nil
}

func prepare() error {
	goose.SetBaseFS(FS)
	return goose.SetDialect("pgx")
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(); err != nil {
		return err
	}
	return goose.DownContext(ctx, db, dir)
}

// Status prints the applied state of each migration through goose's logger.
func Status(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, dir)
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// Apply opens dsn with schema, runs Up and closes the handle.
func Apply(ctx context.Context, dsn, schema string) error {
	db, err := Open(ctx, dsn, schema)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return Up(ctx, db)
}
