// Package postgres provides a Postgres sink for scraped page records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

// DefaultTable receives page rows when no table is configured.
const DefaultTable = "scraped_pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidTableName reports whether name can be interpolated into SQL as a table name.
func ValidTableName(name string) bool {
	return validTableName.MatchString(name)
}

// PageStoreConfig controls the Postgres connection pool used for page rows.
type PageStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PageStore writes one row per PageRecord.
type PageStore struct {
	pool  execCloser
	table string
}

// NewPageStore connects to Postgres using cfg.
func NewPageStore(ctx context.Context, cfg PageStoreConfig) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(pool execCloser, table string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &PageStore{pool: pool, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !ValidTableName(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the page table when it does not exist.
func (s *PageStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	title TEXT NOT NULL,
	meta_description TEXT NOT NULL,
	text_content TEXT NOT NULL,
	links JSONB NOT NULL,
	images JSONB NOT NULL,
	fields JSONB NOT NULL,
	tables JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// SaveRecords inserts records tagged with runID in one transaction, so a run is
// stored whole or not at all. It reports how many rows were committed.
func (s *PageStore) SaveRecords(ctx context.Context, runID string, records []crawler.PageRecord) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("page store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	scraped_at,
	title,
	meta_description,
	text_content,
	links,
	images,
	fields,
	tables
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin run %s: %w", runID, err)
	}
	for _, rec := range records {
		args, err := rowArgs(runID, rec)
		if err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("encode %s: %w", rec.URL, err))
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("insert %s: %w", rec.URL, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit run %s: %w", runID, err)
	}
	return len(records), nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

func rowArgs(runID string, rec crawler.PageRecord) ([]any, error) {
	links, err := jsonList(rec.Links)
	if err != nil {
		return nil, err
	}
	images, err := jsonList(rec.Images)
	if err != nil {
		return nil, err
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string][]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	tables := rec.Tables
	if tables == nil {
		tables = []crawler.Table{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("marshal tables: %w", err)
	}
	return []any{
		runID,
		rec.URL,
		rec.Timestamp,
		rec.Title,
		rec.MetaDescription,
		rec.TextContent,
		links,
		images,
		fieldsJSON,
		tablesJSON,
	}, nil
}

func jsonList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	out, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal list: %w", err)
	}
	return out, nil
}
