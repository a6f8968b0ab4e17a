// Package migrations holds the schema of the ledger stores, applied with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var embedMigrations embed.FS

// Up applies every pending migration for the dialect ("postgres" or "sqlite").
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	var d goose.Dialect
	switch dialect {
	case "postgres":
		d = goose.DialectPostgres
	case "sqlite":
		d = goose.DialectSQLite3
	default:
		return fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(embedMigrations, dialect)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(d, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}
