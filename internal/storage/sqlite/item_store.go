// Package sqlite provides the default SQLite-backed record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
)

// Config controls where the database file lives.
type Config struct {
	Path        string
	AutoMigrate bool
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA cache_size=-64000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// ItemStore persists marketplace items in a SQLite file.
type ItemStore struct {
	db *sqlx.DB
}

// Open creates the data directory when missing, opens the database and
// applies the connection pragmas and, when configured, migrations.
func Open(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if cfg.AutoMigrate {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &ItemStore{db: db}, nil
}

// Close closes the database.
func (s *ItemStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// FindByIdentifier returns the record for identifier or crawler.ErrRecordNotFound.
func (s *ItemStore) FindByIdentifier(ctx context.Context, identifier string) (crawler.Record, error) {
	var rec crawler.Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM items WHERE identifier = ?`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("select item %s: %w", identifier, err)
	}
	return rec, nil
}

// Create inserts a new record.
func (s *ItemStore) Create(ctx context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	row := struct {
		Identifier string `db:"identifier"`
		crawler.Metadata
	}{Identifier: identifier, Metadata: meta}

	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO items (
	identifier, name, description, version, author, url, repository, license,
	downloads, installs, last_updated, categories, tags, rating
) VALUES (
	:identifier, :name, :description, :version, :author, :url, :repository, :license,
	:downloads, :installs, :last_updated, :categories, :tags, :rating
)`, row)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("insert item %s: %w", identifier, err)
	}
	return s.FindByIdentifier(ctx, identifier)
}

// UpdateMetadata overwrites every metadata column; local_path is untouched.
func (s *ItemStore) UpdateMetadata(ctx context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	row := struct {
		Identifier string `db:"identifier"`
		crawler.Metadata
	}{Identifier: identifier, Metadata: meta}

	res, err := s.db.NamedExecContext(ctx, `
UPDATE items SET
	name = :name, description = :description, version = :version, author = :author,
	url = :url, repository = :repository, license = :license, downloads = :downloads,
	installs = :installs, last_updated = :last_updated, categories = :categories,
	tags = :tags, rating = :rating, updated_at = CURRENT_TIMESTAMP
WHERE identifier = :identifier`, row)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("update item %s: %w", identifier, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	return s.FindByIdentifier(ctx, identifier)
}

// SetLocalPath records path unless the item already has one.
func (s *ItemStore) SetLocalPath(ctx context.Context, identifier, path string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE items SET
	updated_at = CASE WHEN local_path IS NULL THEN CURRENT_TIMESTAMP ELSE updated_at END,
	local_path = COALESCE(local_path, ?)
WHERE identifier = ?`, path, identifier)
	if err != nil {
		return fmt.Errorf("set local path for %s: %w", identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set local path for %s: %w", identifier, err)
	}
	if n == 0 {
		return crawler.ErrRecordNotFound
	}
	return nil
}

// ListUnarchived returns items without a local path, oldest first.
func (s *ItemStore) ListUnarchived(ctx context.Context) ([]crawler.Record, error) {
	var out []crawler.Record
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM items WHERE local_path IS NULL ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list unarchived items: %w", err)
	}
	return out, nil
}
