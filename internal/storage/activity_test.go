package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendRecord(t *testing.T, s *Store, clientID, tool, status string, at time.Time) *Record {
	t.Helper()
	rec := &Record{
		Timestamp:  at,
		ClientID:   clientID,
		Username:   "alice",
		Tool:       tool,
		Status:     status,
		DurationMS: 12,
	}
	require.NoError(t, s.Append(rec))
	return rec
}

func TestStore_AppendFillsDefaults(t *testing.T) {
	s := newTestStore(t)

	rec := &Record{ClientID: "c1", Tool: "echo", Status: "success"}
	require.NoError(t, s.Append(rec))

	assert.NotEmpty(t, rec.ID, "ULID assigned")
	assert.False(t, rec.Timestamp.IsZero())

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_AppendRejectsNil(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Append(nil))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	appendRecord(t, s, "c1", "first", "success", base)
	appendRecord(t, s, "c1", "second", "success", base.Add(time.Minute))
	appendRecord(t, s, "c1", "third", "success", base.Add(2*time.Minute))

	records, total, err := s.List(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 3)
	assert.Equal(t, "third", records[0].Tool)
	assert.Equal(t, "second", records[1].Tool)
	assert.Equal(t, "first", records[2].Tool)
}

func TestStore_ListFilters(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	appendRecord(t, s, "c1", "echo", "success", now.Add(-3*time.Minute))
	appendRecord(t, s, "c2", "echo", "error", now.Add(-2*time.Minute))
	appendRecord(t, s, "c1", "greet", "success", now.Add(-time.Minute))

	records, total, err := s.List(Filter{ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, records, 2)

	records, total, err = s.List(Filter{Status: "error"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "c2", records[0].ClientID)

	records, _, err = s.List(Filter{Tool: "greet"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "greet", records[0].Tool)

	records, _, err = s.List(Filter{Since: now.Add(-90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "greet", records[0].Tool)
}

func TestStore_ListPagination(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		appendRecord(t, s, "c1", "echo", "success", base.Add(time.Duration(i)*time.Second))
	}

	records, total, err := s.List(Filter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, records, 3)

	page2, _, err := s.List(Filter{Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page2, 3)
	assert.NotEqual(t, records[0].ID, page2[0].ID)
}

func TestStore_Get(t *testing.T) {
	s := newTestStore(t)
	rec := appendRecord(t, s, "c1", "echo", "success", time.Now().UTC())

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Tool, got.Tool)

	missing, err := s.Get("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ToolCounts(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	appendRecord(t, s, "c1", "echo", "success", now)
	appendRecord(t, s, "c1", "echo", "error", now)
	appendRecord(t, s, "c1", "greet", "success", now)

	counts, err := s.ToolCounts()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), counts["echo"])
	assert.Equal(t, uint64(1), counts["greet"])
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	appendRecord(t, s, "c1", "old", "success", now.Add(-48*time.Hour))
	appendRecord(t, s, "c1", "older", "success", now.Add(-72*time.Hour))
	appendRecord(t, s, "c1", "fresh", "success", now)

	removed, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	records, total, err := s.List(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].Tool)

	// Counters are lifetime totals and survive pruning.
	counts, err := s.ToolCounts()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counts["old"])
}

func TestStore_ReopenSeesData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	appendRecord(t, s, "c1", "echo", "success", time.Now().UTC())
	require.NoError(t, s.Close())

	reopened, err := Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
