// Package audit maintains the append-only journal of security-relevant
// events. Every entry is flushed to disk before the caller proceeds, so an
// audited action is never acknowledged without its record.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/jsonstore"
)

// EventType enumerates the journal's closed event set.
type EventType string

const (
	EventAuthSuccess       EventType = "auth_success"
	EventAuthFailed        EventType = "auth_failed"
	EventTokenRefresh      EventType = "auth_token_refresh"
	EventTokenRevoked      EventType = "auth_token_revoked"
	EventToolExecuted      EventType = "tool_executed"
	EventPermissionDenied  EventType = "permission_denied"
	EventClientCreated     EventType = "client_created"
	EventClientDeleted     EventType = "client_deleted"
	EventClientDisabled    EventType = "client_disabled"
	EventCrossClientAccess EventType = "cross_client_access"
	EventError             EventType = "error"
)

// Statuses recorded on entries.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// ResultClipLen bounds stored tool results so one verbose tool cannot bloat
// the journal.
const ResultClipLen = 500

// Entry is one immutable journal record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	ClientID  string         `json:"client_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type document struct {
	Entries []Entry `json:"entries"`
}

// Log is the journal handle. Appends serialize on an internal mutex so the
// on-disk order matches the order callers observed.
type Log struct {
	mu       sync.Mutex
	store    *jsonstore.Store
	logger   *zap.SugaredLogger
	onAppend func(EventType)
}

func NewLog(path string, logger *zap.SugaredLogger) *Log {
	return &Log{store: jsonstore.New(path), logger: logger}
}

// OnAppend installs a callback invoked after every durable append. The
// journal stays ignorant of what observes it.
func (l *Log) OnAppend(fn func(EventType)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = fn
}

// Append writes one entry. A zero timestamp is stamped with the current UTC
// time.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var doc document
	if err := l.store.Load(&doc); err != nil {
		return err
	}
	doc.Entries = append(doc.Entries, e)
	if err := l.store.Save(&doc); err != nil {
		return err
	}
	l.logger.Debugw("audit entry recorded", "event", e.EventType, "client", e.ClientID, "status", e.Status)
	if l.onAppend != nil {
		l.onAppend(e.EventType)
	}
	return nil
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	ClientID  string
	Username  string
	EventType EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Query returns matching entries in journal order.
func (l *Log) Query(f Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var doc document
	if err := l.store.Load(&doc); err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range doc.Entries {
		if f.ClientID != "" && e.ClientID != f.ClientID {
			continue
		}
		if f.Username != "" && e.Username != f.Username {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var doc document
	if err := l.store.Load(&doc); err != nil {
		return nil, err
	}

	entries := doc.Entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

// Count returns the total number of journal entries.
func (l *Log) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var doc document
	if err := l.store.Load(&doc); err != nil {
		return 0, err
	}
	return len(doc.Entries), nil
}

// Clip bounds s to max runes, marking the cut with an ellipsis.
func Clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
