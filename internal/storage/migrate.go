package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Migrator applies the embedded schema migrations in filename order.
// Each file runs in its own transaction and is recorded in
// schema_migrations so reruns are no-ops.
type Migrator struct {
	db    *sql.DB
	files fs.FS
	now   func() time.Time
}

type migration struct {
	id  string
	sql string
}

func NewMigrator(db *sql.DB, migrations fs.FS) *Migrator {
	return &Migrator{db: db, files: migrations, now: time.Now}
}

func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("db is required")
	}

	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	for _, mig := range pending {
		if strings.TrimSpace(mig.sql) == "" {
			// Nothing to execute, but record it so the filename is
			// not reconsidered on every start.
			if err := m.recordApplied(ctx, mig.id); err != nil {
				return err
			}
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

// pending returns the not-yet-applied migrations sorted by filename.
func (m *Migrator) pending(ctx context.Context) ([]migration, error) {
	names, err := fs.Glob(m.files, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, name := range names {
		id := filepath.Base(name)
		if applied[id] {
			continue
		}
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{id: id, sql: stripLineComments(string(content))})
	}
	return out, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return out, nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mig.id, err)
	}
	if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", mig.id, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, mig.id, m.now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", mig.id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.id, err)
	}
	return nil
}

func (m *Migrator) recordApplied(ctx context.Context, id string) error {
	if _, err := m.db.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, id, m.now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

func stripLineComments(sqlText string) string {
	lines := strings.Split(sqlText, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
