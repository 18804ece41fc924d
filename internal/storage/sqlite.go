package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"postwatch/internal/model"
	"postwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements SeenStore backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Contains checks whether a post has already been dispatched.
func (s *SQLite) Contains(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_posts WHERE post_id = ?`, id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// Insert records a dispatched post. Re-inserting keeps the later expiry.
func (s *SQLite) Insert(ctx context.Context, id string, expiresAt time.Time) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_posts (post_id, seen_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(post_id) DO UPDATE SET expires_at = max(expires_at, excluded.expires_at)`,
		id, now, expiresAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert seen: %w", err)
	}
	return nil
}

// Expire removes entries whose expiry is not after now.
func (s *SQLite) Expire(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_posts WHERE expires_at <= ?`, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("expire seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// List returns all stored entries ordered by post id.
func (s *SQLite) List(ctx context.Context) ([]model.SeenPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, expires_at FROM seen_posts ORDER BY post_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SeenPost
	for rows.Next() {
		var e model.SeenPost
		var exp string
		if err := rows.Scan(&e.ID, &exp); err != nil {
			return nil, fmt.Errorf("scan seen: %w", err)
		}
		e.ExpiresAt, _ = time.Parse(timeLayout, exp)
		out = append(out, e)
	}
	return out, rows.Err()
}
