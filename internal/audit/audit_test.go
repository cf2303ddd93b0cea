package audit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(filepath.Join(t.TempDir(), "audit.json"), zap.NewNop().Sugar())
}

func TestLog_AppendStampsTimestamp(t *testing.T) {
	l := newTestLog(t)

	before := time.Now().UTC()
	require.NoError(t, l.Append(Entry{EventType: EventError, Status: StatusFailure, Message: "boom"}))

	entries, err := l.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.Before(before), "zero timestamps get stamped at append time")
}

func TestLog_PersistsAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	logger := zap.NewNop().Sugar()

	first := NewLog(path, logger)
	require.NoError(t, first.AuthSuccess("c1", "alice"))

	second := NewLog(path, logger)
	n, err := second.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the journal lives on disk, not in the handle")
}

func TestLog_CanonicalMessages(t *testing.T) {
	l := newTestLog(t)

	require.NoError(t, l.AuthSuccess("c1", "alice"))
	require.NoError(t, l.AuthFailed("mallory", "invalid password"))
	require.NoError(t, l.ToolExecuted("c1", "alice", "greet", StatusSuccess, 12, map[string]any{"name": "World"}, `"Hello"`, ""))
	require.NoError(t, l.PermissionDenied("c1", "alice", "file-write", "write_file"))
	require.NoError(t, l.ClientCreated("c2", "bob"))
	require.NoError(t, l.ClientDeleted("c2", "bob"))
	require.NoError(t, l.ClientDisabled("c3", "carol"))
	require.NoError(t, l.CrossClientAccess("c1", "/jails/c2/data.txt"))

	all, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 8)

	assert.Equal(t, "Client alice authenticated", all[0].Message)
	assert.Equal(t, "Authentication failed for mallory: invalid password", all[1].Message)
	assert.Equal(t, "Tool executed: greet (success)", all[2].Message)
	assert.EqualValues(t, 12, all[2].Details["duration_ms"], "numbers come back as float64 after the disk round-trip")
	assert.Equal(t, map[string]any{"name": "World"}, all[2].Details["params"])
	assert.Equal(t, "Permission denied: file-write", all[3].Message)
	assert.Equal(t, "write_file", all[3].Details["resource"])
	assert.Equal(t, "file-write", all[3].Details["required_permission"])
	assert.Equal(t, StatusDenied, all[3].Status)
	assert.Equal(t, "Client created: bob", all[4].Message)
	assert.Equal(t, "Client deleted: bob", all[5].Message)
	assert.Equal(t, "Client disabled: carol", all[6].Message)
	assert.Equal(t, EventCrossClientAccess, all[7].EventType)
	assert.Equal(t, StatusSuccess, all[7].Status, "a permitted cross-client access is not a denial")
}

func TestLog_QueryFilters(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.AuthSuccess("c1", "alice"))
	require.NoError(t, l.AuthSuccess("c2", "bob"))
	require.NoError(t, l.AuthFailed("alice", "invalid password"))
	require.NoError(t, l.ToolExecuted("c1", "alice", "greet", StatusSuccess, 3, nil, "", ""))

	byClient, err := l.Query(Filter{ClientID: "c1"})
	require.NoError(t, err)
	assert.Len(t, byClient, 2)

	byEvent, err := l.Query(Filter{EventType: EventAuthFailed})
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, "alice", byEvent[0].Username)

	byUser, err := l.Query(Filter{Username: "bob"})
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	limited, err := l.Query(Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLog_QueryDateRange(t *testing.T) {
	l := newTestLog(t)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(Entry{Timestamp: old, EventType: EventError, Status: StatusFailure, Message: "ancient"}))
	require.NoError(t, l.Append(Entry{EventType: EventError, Status: StatusFailure, Message: "fresh"}))

	recent, err := l.Query(Filter{Since: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Message)

	ancient, err := l.Query(Filter{Until: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, ancient, 1)
	assert.Equal(t, "ancient", ancient[0].Message)
}

func TestLog_RecentNewestFirst(t *testing.T) {
	l := newTestLog(t)
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, l.ToolExecuted("c1", "", name, StatusSuccess, 1, nil, "", ""))
	}

	recent, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Contains(t, recent[0].Message, "three")
	assert.Contains(t, recent[1].Message, "two")
}

func TestLog_ToolExecutedClipsResult(t *testing.T) {
	l := newTestLog(t)
	long := strings.Repeat("x", 2000)

	require.NoError(t, l.ToolExecuted("c1", "alice", "spam", StatusSuccess, 1, nil, long, ""))

	entries, err := l.Recent(1)
	require.NoError(t, err)
	stored, ok := entries[0].Details["result"].(string)
	require.True(t, ok)
	assert.Len(t, stored, ResultClipLen)
	assert.True(t, strings.HasSuffix(stored, "..."))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "exact", Clip("exact", 5))
	assert.Equal(t, "ab...", Clip("abcdefgh", 5))
	assert.Equal(t, "ab", Clip("abcdefgh", 2), "tiny limits cut hard")
	assert.Equal(t, "whatever", Clip("whatever", 0), "non-positive limit disables clipping")
}
