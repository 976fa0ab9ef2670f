package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"avisos/internal/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded SQL migrations in filename order. Each file
// is applied once; its checksum is stored so an edited migration that was
// already applied is reported instead of silently skipped.
type Migrator struct {
	db     DBTX
	files  fs.FS
	logger *slog.Logger
}

// NewMigrator creates a Migrator over the embedded migrations.
func NewMigrator(db DBTX, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sub, _ := fs.Sub(migrationFS, "migrations")
	return &Migrator{db: db, files: sub, logger: logger}
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if _, err := m.db.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
		   filename   TEXT PRIMARY KEY,
		   checksum   TEXT NOT NULL,
		   applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		 )`,
	); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to create schema_migrations", err)
	}

	names, err := fs.Glob(m.files, "*.sql")
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to list migrations", err)
	}
	sort.Strings(names)

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, name := range names {
		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return ran, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read migration "+name, err)
		}
		sum := sha256.Sum256(body)
		checksum := hex.EncodeToString(sum[:])

		if prev, ok := applied[name]; ok {
			if prev != checksum {
				return ran, types.NewAppError(types.ErrCodeInternalDB,
					fmt.Sprintf("migration %s already applied with a different checksum", name), nil)
			}
			continue
		}

		if _, err := m.db.Exec(ctx, string(body)); err != nil {
			return ran, types.NewAppError(types.ErrCodeInternalDB, "failed to apply migration "+name, err)
		}
		if _, err := m.db.Exec(ctx,
			`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
			name, checksum,
		); err != nil {
			return ran, types.NewAppError(types.ErrCodeInternalDB, "failed to record migration "+name, err)
		}
		m.logger.Info("migration applied", "file", name)
		ran++
	}
	return ran, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query schema_migrations", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schema_migrations", err)
		}
		out[strings.TrimSpace(name)] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schema_migrations", err)
	}
	return out, nil
}
