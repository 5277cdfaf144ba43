// Package pgstore keeps the relay's push log in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowpbx/pushcall/internal/relay"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements relay.PushLogger using PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, logger: logger.With("subsystem", "pgstore")}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("postgresql push log opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

// Log records the result of a delivery attempt.
func (s *Store) Log(ctx context.Context, e relay.PushLogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_logs (platform, kind, call_id, token_prefix, message_id, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Platform, e.Kind, e.CallID, e.TokenPrefix, e.MessageID, e.Success, e.Error, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting push log: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]relay.PushLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, kind, call_id, token_prefix, message_id, success, error, created_at
		 FROM push_logs
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying push logs: %w", err)
	}
	defer rows.Close()

	var out []relay.PushLogEntry
	for rows.Next() {
		var e relay.PushLogEntry
		if err := rows.Scan(&e.Platform, &e.Kind, &e.CallID, &e.TokenPrefix, &e.MessageID, &e.Success, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning push log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
