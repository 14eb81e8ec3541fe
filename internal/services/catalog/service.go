// Package catalog queries the PostgreSQL system catalog.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fgeck/pgbatch/internal/models"
	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/rs/zerolog"
)

const listTablesQuery = `
SELECT quote_ident(schemaname) || '.' || quote_ident(tablename)
FROM pg_catalog.pg_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
  AND schemaname NOT LIKE 'pg\_toast%'
ORDER BY schemaname, tablename`

// Service defines the interface for catalog queries.
type Service interface {
	ListTables(ctx context.Context, cfg models.ConnectionConfig, sslMode string) ([]string, error)
	Ping(ctx context.Context, cfg models.ConnectionConfig, sslMode string) error
}

// Opener opens a database handle for a DSN.
type Opener func(dsn string) (*sql.DB, error)

// Impl implements the catalog Service interface with lib/pq.
type Impl struct {
	open   Opener
	logger zerolog.Logger
}

// New creates a new catalog service.
func New(logger zerolog.Logger) *Impl {
	return NewWithOpener(logger, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
}

// NewWithOpener creates a new catalog service with a custom opener (for testing).
func NewWithOpener(logger zerolog.Logger, open Opener) *Impl {
	return &Impl{
		open:   open,
		logger: logger,
	}
}

// ListTables returns the schema-qualified, quoted names of all user tables.
func (s *Impl) ListTables(ctx context.Context, cfg models.ConnectionConfig, sslMode string) ([]string, error) {
	db, err := s.open(cfg.DSN(sslMode))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	s.logger.Debug().
		Str("database", cfg.Database).
		Int("count", len(tables)).
		Msg("tables listed")

	return tables, nil
}

// Ping checks that the database accepts connections.
func (s *Impl) Ping(ctx context.Context, cfg models.ConnectionConfig, sslMode string) error {
	db, err := s.open(cfg.DSN(sslMode))
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
