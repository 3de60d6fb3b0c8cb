// Package jobstore persists one record per delivered image, keyed by the
// delivery identifier the front-end assigns when the image is sent. Replay
// actions read these records to rebuild generation parameters.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/logger"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("jobstore: record not found")

// Record is the persisted snapshot of the parameters that produced one
// delivered image. Written once, never updated in place.
type Record struct {
	Prompt      string  `json:"prompt"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Steps       int     `json:"steps"`
	CFGScale    float64 `json:"cfg_scale"`
	SamplerName string  `json:"sampler_name"`
	Scheduler   string  `json:"scheduler"`
	Seed        int64   `json:"seed"`
	Timestamp   int64   `json:"timestamp"`

	// FileID is the front-end's blob reference for the delivered image,
	// needed by the final-upscale action.
	FileID string `json:"file_id,omitempty"`
}

type Store struct {
	db  *sql.DB
	ttl time.Duration
}

const schema = `CREATE TABLE IF NOT EXISTS job_records (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_records_created_at ON job_records (created_at);`

// Open creates or opens the record database. Records older than ttl are
// eligible for purging; a non-positive ttl disables expiry.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job record db: %w", err)
	}
	// single writer keeps sqlite happy under concurrent workers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure job record db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create job record schema: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists a record under an opaque key supplied by the delivery side.
// Re-putting the same key overwrites, which only happens if the front-end
// reuses a delivery identifier.
func (s *Store) Put(key string, record Record) error {
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO job_records (key, payload, created_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at",
		key, string(payload), record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("put job record %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(key string) (Record, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM job_records WHERE key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get job record %s: %w", key, err)
	}
	var record Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return Record{}, fmt.Errorf("decode job record %s: %w", key, err)
	}
	return record, nil
}

// PurgeExpired deletes records older than the configured ttl and returns
// how many were removed.
func (s *Store) PurgeExpired() (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	result, err := s.db.Exec("DELETE FROM job_records WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge job records: %w", err)
	}
	return result.RowsAffected()
}

// StartPurger runs PurgeExpired on an interval until the context is done.
func (s *Store) StartPurger(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.PurgeExpired()
				if err != nil {
					logger.Errorf("job record purge failed: %s", err)
				} else if purged > 0 {
					logger.Infof("purged %d expired job records", purged)
				}
			}
		}
	}()
}
