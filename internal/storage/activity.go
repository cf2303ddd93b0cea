package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// Record is one journal entry: who ran which tool, how it ended, and
// how long it took.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"client_id"`
	Username   string    `json:"username,omitempty"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// recordKey builds the journal key: a 20-digit nanosecond timestamp
// plus the ULID, so lexical order is chronological order and a reverse
// cursor walks newest-first.
func recordKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// Append writes one record to the journal and bumps the tool's run
// counter. Missing ids and timestamps are filled in.
func (s *Store) Append(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("activity record cannot be nil")
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode activity record: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(journalBucket)).Put(recordKey(rec.Timestamp, rec.ID), data); err != nil {
			return err
		}
		counters := tx.Bucket([]byte(countersBucket))
		count := uint64(0)
		if raw := counters.Get([]byte(rec.Tool)); len(raw) == 8 {
			count = binary.BigEndian.Uint64(raw)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return counters.Put([]byte(rec.Tool), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to append activity record: %w", err)
	}
	return nil
}

// Filter selects journal records. Zero values match everything.
type Filter struct {
	ClientID string
	Tool     string
	Status   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Validate normalizes pagination bounds.
func (f *Filter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether the record passes the filter.
func (f *Filter) Matches(rec *Record) bool {
	if f.ClientID != "" && rec.ClientID != f.ClientID {
		return false
	}
	if f.Tool != "" && rec.Tool != f.Tool {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// List walks the journal newest-first and returns the page the filter
// selects plus the total number of matches.
func (s *Store) List(filter Filter) ([]*Record, int, error) {
	filter.Validate()

	var records []*Record
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(journalBucket)).Cursor()
		skipped := 0
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				if s.logger != nil {
					s.logger.Warnw("skipping unreadable activity record",
						"key", string(k), "error", err)
				}
				continue
			}
			if !filter.Matches(&rec) {
				continue
			}
			total++
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				out := rec
				records = append(records, &out)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity records: %w", err)
	}
	return records, total, nil
}

// Get returns the record with the given ULID, or nil when absent.
func (s *Store) Get(id string) (*Record, error) {
	var found *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(journalBucket)).Cursor()
		suffix := []byte("_" + id)
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if !strings.HasSuffix(string(k), string(suffix)) {
				continue
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			found = &rec
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read activity record: %w", err)
	}
	return found, nil
}

// Count returns the number of journal records.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(journalBucket)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count activity records: %w", err)
	}
	return count, nil
}

// ToolCounts returns the lifetime run counter per tool. Counters
// survive journal pruning.
func (s *Store) ToolCounts() (map[string]uint64, error) {
	counts := map[string]uint64{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(countersBucket)).ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				counts[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read tool counters: %w", err)
	}
	return counts, nil
}

// Prune drops journal records older than maxAge and reports how many
// were removed. The timestamp prefix makes the cutoff a simple key
// comparison from the front of the bucket.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := []byte(fmt.Sprintf("%020d", time.Now().Add(-maxAge).UnixNano()))
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(journalBucket))
		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if string(k) >= string(cutoff) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity records: %w", err)
	}
	if removed > 0 && s.logger != nil {
		s.logger.Infow("pruned activity journal", "removed", removed)
	}
	return removed, nil
}
