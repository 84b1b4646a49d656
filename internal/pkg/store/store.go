// Package store persists pattern-set definitions in Postgres. Sets are
// stored immutably by version; one version per set name can be marked
// active. The store holds the same structure the YAML files carry, so a
// set can round-trip between file, database and compiler.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamregex/streamregex/internal/pkg/logger"
	"github.com/streamregex/streamregex/internal/pkg/ruleset"
)

// ErrSetNotFound is returned when no matching set version exists.
var ErrSetNotFound = errors.New("pattern set not found")

// schema holds the migration statements, applied in order. Statements
// are idempotent so reapplying on startup is safe.
const schema = `
CREATE TABLE IF NOT EXISTS pattern_sets (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    version    TEXT NOT NULL UNIQUE,
    active     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pattern_sets_name_idx ON pattern_sets (name);
CREATE TABLE IF NOT EXISTS patterns (
    set_id           BIGINT NOT NULL REFERENCES pattern_sets(id) ON DELETE CASCADE,
    seq              INT NOT NULL,
    pattern_id       TEXT NOT NULL,
    pattern          TEXT NOT NULL,
    case_insensitive BOOLEAN NOT NULL DEFAULT FALSE,
    anchor           TEXT NOT NULL DEFAULT '',
    first_match_only BOOLEAN NOT NULL DEFAULT FALSE,
    enabled          BOOLEAN NOT NULL DEFAULT TRUE,
    description      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (set_id, pattern_id)
);
`

// Store is a Postgres-backed pattern-set repository.
type Store struct {
	db *sql.DB
}

// Open connects to the database and applies migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	s := &Store{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping pattern store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. Migrations are not applied.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the schema statements in order.
func (s *Store) Migrate(ctx context.Context) error {
	for _, chunk := range strings.Split(schema, ";") {
		stmt := strings.TrimSpace(chunk)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// SaveSet stores one immutable set version.
func (s *Store) SaveSet(ctx context.Context, f *ruleset.File, version string) error {
	if err := ruleset.Validate(f); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save pattern set: %w", err)
	}
	defer tx.Rollback()

	var setID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO pattern_sets(name, version) VALUES ($1, $2) RETURNING id`,
		f.Name, version,
	).Scan(&setID)
	if err != nil {
		return fmt.Errorf("insert pattern set %q: %w", f.Name, err)
	}

	for i, r := range f.Patterns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO patterns(set_id, seq, pattern_id, pattern, case_insensitive, anchor, first_match_only, enabled, description)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			setID, i, r.ID, r.Pattern, r.CaseInsensitive, r.Anchor, r.FirstMatchOnly, r.IsEnabled(), r.Description,
		); err != nil {
			return fmt.Errorf("insert pattern %q: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save pattern set: %w", err)
	}
	logger.Info("pattern set saved", "set", f.Name, "version", version, "patterns", len(f.Patterns))
	return nil
}

// Activate marks one version of a set active and deactivates the rest.
func (s *Store) Activate(ctx context.Context, name, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("activate pattern set: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE pattern_sets SET active = FALSE WHERE name = $1`, name,
	); err != nil {
		return fmt.Errorf("deactivate old versions of %q: %w", name, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pattern_sets SET active = TRUE WHERE name = $1 AND version = $2`,
		name, version,
	)
	if err != nil {
		return fmt.Errorf("activate %q version %q: %w", name, version, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("activate %q version %q: %w", name, version, ErrSetNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("activate pattern set: %w", err)
	}
	logger.Info("pattern set activated", "set", name, "version", version)
	return nil
}

// LoadActiveSet loads the active version of a set by name. The returned
// version identifies the stored revision.
func (s *Store) LoadActiveSet(ctx context.Context, name string) (*ruleset.File, string, error) {
	var (
		setID   int64
		version string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version FROM pattern_sets WHERE name = $1 AND active ORDER BY created_at DESC LIMIT 1`,
		name,
	).Scan(&setID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("load active set %q: %w", name, ErrSetNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("load active set %q: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_id, pattern, case_insensitive, anchor, first_match_only, enabled, description
         FROM patterns WHERE set_id = $1 ORDER BY seq`,
		setID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("load patterns of %q: %w", name, err)
	}
	defer rows.Close()

	f := &ruleset.File{Name: name}
	for rows.Next() {
		var (
			r       ruleset.Rule
			enabled bool
		)
		if err := rows.Scan(&r.ID, &r.Pattern, &r.CaseInsensitive, &r.Anchor, &r.FirstMatchOnly, &enabled, &r.Description); err != nil {
			return nil, "", fmt.Errorf("scan pattern of %q: %w", name, err)
		}
		r.Enabled = &enabled
		f.Patterns = append(f.Patterns, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("load patterns of %q: %w", name, err)
	}
	return f, version, nil
}
