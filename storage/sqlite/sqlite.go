// Package sqlite provides a storage.Storage backed by a SQLite database via
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/paddock/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	profile    TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (profile, key)
);
`

// Storage implements storage.Storage on a single SQLite table.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("sqlite storage: path is required")
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers for file databases.
	db.SetMaxOpenConns(1)

	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

// InitDB creates the kv table if it does not exist.
func InitDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite storage: init schema: %w", err)
	}
	return nil
}

// Get retrieves data for a key within the selected profile.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)

	var (
		data      []byte
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, expires_at FROM kv WHERE profile = ? AND key = ?`,
		options.Profile, key,
	).Scan(&data, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: get %s: %w", key, err)
	}

	item := &storage.Item{Data: data, CreatedAt: time.Unix(0, createdAt)}
	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64)
		item.ExpiresAt = &exp
	}
	if item.IsExpired() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE profile = ? AND key = ?`, options.Profile, key); err != nil {
			return nil, fmt.Errorf("sqlite storage: expire %s: %w", key, err)
		}
		return nil, nil
	}
	return item, nil
}

// Set stores data for a key within the selected profile.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	now := time.Now()
	var expiresAt sql.NullInt64
	if options.TTL != nil {
		expiresAt = sql.NullInt64{Int64: now.Add(*options.TTL).UnixNano(), Valid: true}
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (profile, key, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile, key) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		options.Profile, key, data, now.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite storage: set %s: %w", key, err)
	}
	return nil
}

// Delete removes one key (WithKey) or every key in the profile.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	var err error
	if options.Key != nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE profile = ? AND key = ?`, options.Profile, *options.Key)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE profile = ?`, options.Profile)
	}
	if err != nil {
		return fmt.Errorf("sqlite storage: delete: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

var _ storage.Storage = (*Storage)(nil)
