// Package cache is the single on-device persisted cache: feed snapshots per
// mode and identity, plus a small string KV tier for legacy payloads, both
// with freshness bounds. Two tabs writing the same key is last-write-wins.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"foodstr/models"
)

type Store struct {
	db       *sql.DB
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func NewStore(database string, compress bool) (*Store, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &Store{db: db, compress: compress}

	if compress {
		if s.encoder, err = zstd.NewWriter(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Always keep a decoder so a store reopened without compression can
	// still read old compressed rows.
	if s.decoder, err = zstd.NewReader(nil); err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SnapshotKey builds the cache key for a feed mode and identity.
func SnapshotKey(mode string, identity string) string {
	if identity == "" {
		return "feed:" + mode
	}
	return "feed:" + mode + ":" + identity
}

// PutSnapshot persists a feed snapshot, replacing any previous one.
func (s *Store) PutSnapshot(key string, notes []models.Note) error {
	payload, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	compressed := 0
	if s.compress {
		payload = s.encoder.EncodeAll(payload, nil)
		compressed = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (key, payload, compressed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			payload = excluded.payload,
			compressed = excluded.compressed,
			updated_at = excluded.updated_at`,
		key, payload, compressed, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot for key if it exists and is younger than
// maxAge. A stale or missing snapshot reports ok=false, not an error.
func (s *Store) GetSnapshot(key string, maxAge time.Duration) ([]models.Note, bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("payload", "compressed", "updated_at").From("snapshots")
	sb.Where(sb.Equal("key", key))

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var payload []byte
	var compressed int
	var updatedAt int64
	err := s.db.QueryRow(query, args...).Scan(&payload, &compressed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query error: %w", err)
	}

	if maxAge > 0 && time.Since(time.Unix(updatedAt, 0)) > maxAge {
		return nil, false, nil
	}

	if compressed != 0 {
		payload, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
	}

	var notes []models.Note
	if err := json.Unmarshal(payload, &notes); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return notes, true, nil
}

// PutKV stores a small string payload under key.
func (s *Store) PutKV(key string, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// GetKV returns the value for key when it is younger than maxAge.
func (s *Store) GetKV(key string, maxAge time.Duration) (string, bool, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("value", "updated_at").From("kv")
	sb.Where(sb.Equal("key", key))

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var value string
	var updatedAt int64
	err := s.db.QueryRow(query, args...).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query error: %w", err)
	}

	if maxAge > 0 && time.Since(time.Unix(updatedAt, 0)) > maxAge {
		return "", false, nil
	}
	return value, true, nil
}

// InvalidateStale deletes rows older than maxAge from both tiers.
func (s *Store) InvalidateStale(maxAge time.Duration) error {
	bound := time.Now().Add(-maxAge).Unix()

	for _, table := range []string{"snapshots", "kv"} {
		del := sqlbuilder.NewDeleteBuilder()
		del.DeleteFrom(table)
		del.Where(del.LessThan("updated_at", bound))

		query, args := del.BuildWithFlavor(sqlbuilder.SQLite)
		res, err := s.db.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.WithFields(log.Fields{
				"table":   table,
				"deleted": n,
			}).Info("Invalidated stale cache rows")
		}
	}
	return nil
}
