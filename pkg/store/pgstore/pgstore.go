// Package pgstore is the PostgreSQL EventStore backend: one events table,
// keyed by (context_name, counter). Schema is applied with embedded
// golang-migrate migrations; queries go through a pgx pool.
//
// It trades the filesystem backend's human-readable files for shared access
// from multiple processes; the contract is identical.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is the PostgreSQL EventStore backend.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.EventStore = (*Store)(nil)

// New applies migrations and opens a connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("pgstore: open for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("pgstore: migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("pgstore: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}

// Load returns the context's events ordered by counter.
func (s *Store) Load(ctx context.Context, name string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM events WHERE context_name = $1 ORDER BY counter`, name)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load %s: %w", name, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", name, err)
		}
		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("pgstore: decode %s: %w", name, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load %s: %w", name, err)
	}
	return events, nil
}

// Append writes the batch in a single transaction.
func (s *Store) Append(ctx context.Context, name string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := store.ValidateBatch(events); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, ev := range events {
			counter, err := event.ParseCounter(ev.ID)
			if err != nil {
				return fmt.Errorf("pgstore: append %s: %w", name, err)
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("pgstore: encode event %s: %w", ev.ID, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO events (context_name, counter, payload) VALUES ($1, $2, $3)`,
				name, counter, payload); err != nil {
				return fmt.Errorf("pgstore: insert %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// Exists reports whether any event was ever appended for the context.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE context_name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: exists %s: %w", name, err)
	}
	return exists, nil
}

// List returns all context names that have at least one event.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT context_name FROM events ORDER BY context_name`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("pgstore: list scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	return names, nil
}
