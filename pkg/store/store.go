// Package store persists run lifecycle and final documents in PostgreSQL.
// The store is optional: a nil *Store is a valid no-op, so the pipeline and
// API behave identically with persistence disabled.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound indicates the requested run or document does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

// Run lifecycle states.
const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one stored pipeline run.
type Run struct {
	ID          string
	Request     string
	Status      RunStatus
	Error       string
	MeanQuality float64
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, applies pending migrations and returns the
// store. Migrations are embedded in the binary, so deployments never need
// external SQL files.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// runMigrations applies pending migrations through a short-lived database/sql
// connection; the pgx pool is opened afterwards.
func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return source.Close()
}

// Close releases the connection pool. Safe on a nil store.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

// CreateRun records a newly queued run.
func (s *Store) CreateRun(ctx context.Context, id, request string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, request, status) VALUES ($1, $2, $3)`,
		id, request, StatusQueued)
	return err
}

// DeleteRun removes a run record. Used to roll back a run that was persisted
// but never admitted to the queue; documents cascade.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	return err
}

// SetRunStatus moves a run to a new lifecycle state.
func (s *Store) SetRunStatus(ctx context.Context, id string, status RunStatus) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2 WHERE id = $1`, id, status)
	return err
}

// CompleteRun marks a run completed and stores its document.
func (s *Store) CompleteRun(ctx context.Context, id string, meanQuality float64, document string) error {
	if s == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE runs SET status = $2, mean_quality = $3, finished_at = now() WHERE id = $1`,
		id, StatusCompleted, meanQuality); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO documents (run_id, content) VALUES ($1, $2)
		 ON CONFLICT (run_id) DO UPDATE SET content = EXCLUDED.content`,
		id, document); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FailRun marks a run failed with a reason.
func (s *Store) FailRun(ctx context.Context, id, reason string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, error = $3, finished_at = now() WHERE id = $1`,
		id, StatusFailed, reason)
	return err
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	var r Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, request, status, error, mean_quality, created_at, finished_at
		 FROM runs WHERE id = $1`, id).
		Scan(&r.ID, &r.Request, &r.Status, &r.Error, &r.MeanQuality, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetDocument loads the stored document of a completed run.
func (s *Store) GetDocument(ctx context.Context, id string) (string, error) {
	if s == nil {
		return "", ErrNotFound
	}
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM documents WHERE run_id = $1`, id).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return content, nil
}
