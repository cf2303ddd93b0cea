// Package storage keeps the execution activity journal in a bbolt
// database: one record per tool run plus a per-tool run counter. The
// journal is an operator-facing supplement to the security audit trail,
// cheap to append to and cheap to tail in reverse order.
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Bucket names.
const (
	journalBucket  = "journal"
	countersBucket = "tool_counters"
)

// FileName is the database file under the data directory.
const FileName = "activity.db"

// Store wraps the bbolt database holding the activity journal.
type Store struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// Open opens (or creates) activity.db under dataDir and makes sure the
// buckets exist. The open times out rather than blocking forever on a
// file another process holds.
func Open(dataDir string, logger *zap.SugaredLogger) (*Store, error) {
	path := filepath.Join(dataDir, FileName)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open activity database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{journalBucket, countersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.db.Path() }

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close activity database: %w", err)
	}
	return nil
}
