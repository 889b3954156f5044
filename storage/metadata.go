package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/helixcare/secrets-core/interfaces"
)

// SQLMetadataStore implements the metadata store on a SQL database with one
// row per key. Rows are plaintext and queryable; secret material never
// belongs here.
type SQLMetadataStore struct {
	db  *sql.DB
	log *slog.Logger
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS metadata_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// NewSQLMetadataStore opens a postgres connection and ensures the
// metadata_entries table exists.
func NewSQLMetadataStore(dsn string, log *slog.Logger) (*SQLMetadataStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	store := &SQLMetadataStore{db: db, log: log}
	if _, err := db.Exec(metadataSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure metadata schema: %w", err)
	}
	return store, nil
}

// NewSQLMetadataStoreFromDB wraps an existing connection, for callers that
// manage pooling themselves and for tests using a mock driver.
func NewSQLMetadataStoreFromDB(db *sql.DB, log *slog.Logger) *SQLMetadataStore {
	return &SQLMetadataStore{db: db, log: log}
}

// Get retrieves a row. Returns interfaces.ErrNotFound if the key is absent.
func (s *SQLMetadataStore) Get(ctx context.Context, key string) (*interfaces.MetadataEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM metadata_entries WHERE key = $1`, key)

	entry := &interfaces.MetadataEntry{Key: key}
	if err := row.Scan(&entry.Value, &entry.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: metadata get %s: %v", interfaces.ErrStorage, key, err)
	}
	return entry, nil
}

// Upsert creates or replaces a row, refreshing updated_at.
func (s *SQLMetadataStore) Upsert(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata_entries (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: metadata upsert %s: %v", interfaces.ErrStorage, key, err)
	}

	s.log.Debug("Upserted metadata row", slog.String("key", key), slog.Int("size", len(value)))
	return nil
}

// Delete removes a row. Deleting an absent key is a no-op.
func (s *SQLMetadataStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%w: metadata delete %s: %v", interfaces.ErrStorage, key, err)
	}
	return nil
}

// List returns the keys under the prefix, sorted.
func (s *SQLMetadataStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM metadata_entries WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata list %s: %v", interfaces.ErrStorage, prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: metadata list scan: %v", interfaces.ErrStorage, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: metadata list rows: %v", interfaces.ErrStorage, err)
	}
	return keys, nil
}

// Close releases the underlying connection pool.
func (s *SQLMetadataStore) Close() error {
	return s.db.Close()
}
