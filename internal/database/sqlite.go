// Package database keeps the run history in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"luks-keeper/internal/database/migrations"
	"luks-keeper/internal/keeper"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrRunNotFound is returned when finishing a run that was never started.
var ErrRunNotFound = errors.New("run not found")

// SQLiteHistory implements keeper.History using SQLite.
type SQLiteHistory struct {
	db    *sql.DB
	path  string
	clock keeper.Clock
	idgen keeper.IDGenerator
}

// NewSQLiteHistory opens the database at path, applying any pending
// migrations. path can be a file path or ":memory:". A nil clock or idgen
// uses the real implementation.
func NewSQLiteHistory(path string, clock keeper.Clock, idgen keeper.IDGenerator) (*SQLiteHistory, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	if clock == nil {
		clock = keeper.RealClock{}
	}
	if idgen == nil {
		idgen = keeper.UUIDGenerator{}
	}
	return &SQLiteHistory{db: db, path: path, clock: clock, idgen: idgen}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to ":memory:" is its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Two invocations (a cron mount and an interactive status) may overlap.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database location.
func (s *SQLiteHistory) Path() string {
	return s.path
}

func (s *SQLiteHistory) StartRun(ctx context.Context, command string) (*keeper.Run, error) {
	if command == "" {
		return nil, fmt.Errorf("run command must not be empty")
	}

	run := &keeper.Run{
		ID:        s.idgen.New(),
		Command:   command,
		StartedAt: s.clock.Now().UTC(),
		Status:    keeper.RunRunning,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, command, started_at, status) VALUES (?, ?, ?, ?)",
		run.ID, run.Command, run.StartedAt, string(run.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

func (s *SQLiteHistory) FinishRun(ctx context.Context, id string, status keeper.RunStatus, errMsg string, snapshot string) error {
	if status == keeper.RunRunning {
		return fmt.Errorf("cannot finish run %s with status %s", id, status)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, error = ?, snapshot = ? WHERE id = ?",
		s.clock.Now().UTC(), string(status), errMsg, snapshot, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *SQLiteHistory) ListRuns(ctx context.Context, limit int) ([]*keeper.Run, error) {
	query := "SELECT id, command, started_at, finished_at, status, error, snapshot FROM runs ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*keeper.Run
	for rows.Next() {
		var (
			run      keeper.Run
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Command, &run.StartedAt, &finished, &status, &run.Error, &run.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = keeper.RunStatus(status)
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CheckMigrations reports whether the schema matches this binary.
func (s *SQLiteHistory) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

func (s *SQLiteHistory) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

var _ keeper.History = (*SQLiteHistory)(nil)
