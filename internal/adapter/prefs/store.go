// Package prefs provides SQLite persistence for per-user map preferences
// such as the last known location and postal code.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"eventmap/internal/domain/mapview"
)

// TimeFormat is the fixed-width layout used for updated_at
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// ErrEmptyKey is returned when a preference key is blank
var ErrEmptyKey = errors.New("preference key is required")

// Store wraps a SQLite database connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens a SQLite database with WAL mode and busy_timeout.
// Use ":memory:" only with a single connection.
func Open(path string) (*Store, error) {
	escapedPath := url.PathEscape(path)
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", escapedPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// WAL allows concurrent readers with a single writer
	db.SetMaxOpenConns(4)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS preferences (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scope, key)
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create preferences table: %w", err)
	}
	return nil
}

// Get returns the value stored under key in scope
func (s *Store) Get(ctx context.Context, scope, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE scope = ? AND key = ?`,
		scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key in scope, replacing any previous value
func (s *Store) Set(ctx context.Context, scope, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at
	`, scope, key, value, s.now().UTC().Format(TimeFormat))
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// Delete removes key from scope; missing keys are ignored
func (s *Store) Delete(ctx context.Context, scope, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE scope = ? AND key = ?`,
		scope, key,
	); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

// All returns every key and value in scope
func (s *Store) All(ctx context.Context, scope string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM preferences WHERE scope = ? ORDER BY key`,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// Scoped returns a key-value view of one scope, typically a user id
func (s *Store) Scoped(scope string) *Scoped {
	return &Scoped{store: s, scope: scope}
}

// Scoped is a mapview.KeyValueStore bound to a single scope
type Scoped struct {
	store *Store
	scope string
}

// Get returns the value for key
func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, s.scope, key)
}

// Set stores value under key
func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.scope, key, value)
}

var _ mapview.KeyValueStore = (*Scoped)(nil)
