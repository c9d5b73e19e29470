// Package store provides the persisted key-value state used by the sync
// engine: anchors, failure window markers, and session flags.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/hale-app/hale/internal/loggy"
)

// Repository defines byte-valued key-value operations. Anchors handed back
// by the data provider are opaque blobs, so values are bytes rather than
// strings.
type Repository interface {
	// Get retrieves a value by key. A missing key returns (nil, nil).
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key matching prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// SQLRepository implements Repository using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL key-value repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a value by key
func (r *SQLRepository) Get(ctx context.Context, key string) ([]byte, error) {
	q := squirrel.Select("value").
		From("kv").
		Where(squirrel.Eq{"key": key}).
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}

	var value []byte
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get query: %w", err)
	}

	return value, nil
}

// Set stores a value under key, replacing any existing value
func (r *SQLRepository) Set(ctx context.Context, key string, value []byte) error {
	// SQLite upsert; last writer wins per key
	q := squirrel.Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, value, time.Now().UTC()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set query: %w", err)
	}

	return nil
}

// Delete removes a key
func (r *SQLRepository) Delete(ctx context.Context, key string) error {
	q := squirrel.Delete("kv").Where(squirrel.Eq{"key": key})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete query: %w", err)
	}

	return nil
}

// DeletePrefix removes every key matching prefix
func (r *SQLRepository) DeletePrefix(ctx context.Context, prefix string) error {
	q := squirrel.Delete("kv").Where(squirrel.Like{"key": prefix + "%"})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete prefix query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete prefix query: %w", err)
	}

	return nil
}
