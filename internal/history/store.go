// Package history keeps a listening history in SQLite so playback can be
// resumed later.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no matching listen exists
var ErrNotFound = errors.New("history: no matching listen")

// Store manages listening history using SQLite
type Store struct {
	db *sql.DB
}

// Listen is one play of one track
type Listen struct {
	ID        int64
	TrackURL  string
	Title     string
	Position  time.Duration
	Duration  time.Duration
	Completed bool
	StartedAt time.Time
	UpdatedAt time.Time
}

// NewStore opens (creating if needed) the history database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps in-memory databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS listens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_url TEXT NOT NULL,
			title TEXT NOT NULL,
			position_ms INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_listens_updated ON listens(updated_at);
		CREATE INDEX IF NOT EXISTS idx_listens_completed ON listens(completed, updated_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Start records a new listen and returns its id
func (s *Store) Start(ctx context.Context, l Listen) (int64, error) {
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now()
	}

	query := `
		INSERT INTO listens (track_url, title, position_ms, duration_ms, completed, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		l.TrackURL,
		l.Title,
		l.Position.Milliseconds(),
		l.Duration.Milliseconds(),
		l.Completed,
		l.StartedAt.UnixMilli(),
		l.StartedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert listen: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}

	return id, nil
}

// Update saves the progress of listen id
func (s *Store) Update(ctx context.Context, id int64, position, duration time.Duration, completed bool, at time.Time) error {
	query := `
		UPDATE listens
		SET position_ms = ?, duration_ms = ?, completed = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		position.Milliseconds(),
		duration.Milliseconds(),
		completed,
		at.UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update listen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("listen with id %d not found", id)
	}

	return nil
}

// Recent returns the most recently updated listens, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Listen, error) {
	query := `
		SELECT id, track_url, title, position_ms, duration_ms, completed, started_at, updated_at
		FROM listens
		ORDER BY updated_at DESC, id DESC
	`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query listens: %w", err)
	}
	defer rows.Close()

	var listens []Listen
	for rows.Next() {
		l, err := scanListen(rows)
		if err != nil {
			return nil, err
		}
		listens = append(listens, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listens: %w", err)
	}

	return listens, nil
}

// LastIncomplete returns the most recent listen that was not finished
func (s *Store) LastIncomplete(ctx context.Context) (Listen, error) {
	query := `
		SELECT id, track_url, title, position_ms, duration_ms, completed, started_at, updated_at
		FROM listens
		WHERE completed = 0
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`

	l, err := scanListen(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return Listen{}, ErrNotFound
	}
	return l, err
}

// Cleanup removes listens not touched within maxAge
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := s.db.ExecContext(ctx, "DELETE FROM listens WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old listens: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// Count returns the number of recorded listens
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listens").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count listens: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListen(row scanner) (Listen, error) {
	var l Listen
	var positionMs, durationMs, startedMs, updatedMs int64

	err := row.Scan(
		&l.ID,
		&l.TrackURL,
		&l.Title,
		&positionMs,
		&durationMs,
		&l.Completed,
		&startedMs,
		&updatedMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Listen{}, err
	}
	if err != nil {
		return Listen{}, fmt.Errorf("failed to scan listen: %w", err)
	}

	l.Position = time.Duration(positionMs) * time.Millisecond
	l.Duration = time.Duration(durationMs) * time.Millisecond
	l.StartedAt = time.UnixMilli(startedMs)
	l.UpdatedAt = time.UnixMilli(updatedMs)
	return l, nil
}
