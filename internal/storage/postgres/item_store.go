// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
)

// Config controls the Postgres connection pool used for item records.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

const columns = `id, identifier, name, description, version, author, url, repository, license,
	downloads, installs, last_updated, categories, tags, rating, local_path, created_at, updated_at`

// ItemStore persists marketplace items in Postgres.
type ItemStore struct {
	pool pgxIface
}

// NewItemStore connects to Postgres and, when configured, applies migrations.
func NewItemStore(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &ItemStore{pool: pool}, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(pool pgxIface) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ItemStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// FindByIdentifier returns the record for identifier or crawler.ErrRecordNotFound.
func (s *ItemStore) FindByIdentifier(ctx context.Context, identifier string) (crawler.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM items WHERE identifier = $1`, identifier)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("select item %s: %w", identifier, err)
	}
	return rec, nil
}

// Create inserts a new record.
func (s *ItemStore) Create(ctx context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	query := `
INSERT INTO items (
	identifier, name, description, version, author, url, repository, license,
	downloads, installs, last_updated, categories, tags, rating
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) RETURNING ` + columns
	args := append([]any{identifier}, metadataArgs(meta)...)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("insert item %s: %w", identifier, err)
	}
	return rec, nil
}

// UpdateMetadata overwrites every metadata column; local_path is untouched.
func (s *ItemStore) UpdateMetadata(ctx context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	query := `
UPDATE items SET
	name = $2, description = $3, version = $4, author = $5, url = $6, repository = $7,
	license = $8, downloads = $9, installs = $10, last_updated = $11, categories = $12,
	tags = $13, rating = $14, updated_at = now()
WHERE identifier = $1
RETURNING ` + columns
	args := append([]any{identifier}, metadataArgs(meta)...)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("update item %s: %w", identifier, err)
	}
	return rec, nil
}

// SetLocalPath records path unless the item already has one.
func (s *ItemStore) SetLocalPath(ctx context.Context, identifier, path string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE items SET
	updated_at = CASE WHEN local_path IS NULL THEN now() ELSE updated_at END,
	local_path = COALESCE(local_path, $2)
WHERE identifier = $1`, identifier, path)
	if err != nil {
		return fmt.Errorf("set local path for %s: %w", identifier, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrRecordNotFound
	}
	return nil
}

// ListUnarchived returns items without a local path, oldest first.
func (s *ItemStore) ListUnarchived(ctx context.Context) ([]crawler.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM items WHERE local_path IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list unarchived items: %w", err)
	}
	defer rows.Close()

	var out []crawler.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func metadataArgs(meta crawler.Metadata) []any {
	return []any{
		meta.Name,
		meta.Description,
		meta.Version,
		meta.Author,
		meta.URL,
		meta.Repository,
		meta.License,
		meta.Downloads,
		meta.Installs,
		meta.LastUpdated,
		listArg(meta.Categories),
		listArg(meta.Tags),
		meta.Rating,
	}
}

// listArg encodes a list as the JSON text stored in list columns.
func listArg(list crawler.StringList) *string {
	v, err := list.Value()
	if err != nil || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var (
		rec        crawler.Record
		categories *string
		tags       *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Identifier,
		&rec.Name,
		&rec.Description,
		&rec.Version,
		&rec.Author,
		&rec.URL,
		&rec.Repository,
		&rec.License,
		&rec.Downloads,
		&rec.Installs,
		&rec.LastUpdated,
		&categories,
		&tags,
		&rec.Rating,
		&rec.LocalPath,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return crawler.Record{}, err
	}
	if categories != nil {
		if err := rec.Categories.Scan(*categories); err != nil {
			return crawler.Record{}, fmt.Errorf("decode categories: %w", err)
		}
	}
	if tags != nil {
		if err := rec.Tags.Scan(*tags); err != nil {
			return crawler.Record{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return rec, nil
}
