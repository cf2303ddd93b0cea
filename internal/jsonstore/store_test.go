package jsonstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testDoc struct {
	Entries []string `json:"entries"`
	Label   string   `json:"label,omitempty"`
}

func TestStore_LoadMissingKeepsDefaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.json"))

	doc := testDoc{Entries: []string{"seed"}}
	err := s.Load(&doc)

	require.NoError(t, err, "missing file should not be an error")
	assert.Equal(t, []string{"seed"}, doc.Entries, "defaults must survive a missing file")
	assert.False(t, s.Exists())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "doc.json"))

	in := testDoc{Entries: []string{"a", "b"}, Label: "x"}
	require.NoError(t, s.Save(in))
	require.True(t, s.Exists())

	var out testDoc
	require.NoError(t, s.Load(&out))
	assert.Equal(t, in, out)
}

func TestStore_SaveTightensPermissions(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "secret.json"))
	require.NoError(t, s.Save(testDoc{}))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "documents must be owner read-write only")
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "doc.json"))
	require.NoError(t, s.Save(testDoc{Label: "one"}))
	require.NoError(t, s.Save(testDoc{Label: "two"}))

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "doc.json", names[0].Name())
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "doc.json"))

	require.NoError(t, s.Remove(), "removing an absent document is fine")

	require.NoError(t, s.Save(testDoc{Label: "x"}))
	require.NoError(t, s.Remove())
	assert.False(t, s.Exists())
	require.NoError(t, s.Remove())
}

func TestStore_LoadMalformedReportsFormatError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var doc testDoc
	err := New(path).Load(&doc)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrIO, "format faults must stay distinct from i/o faults")
}

func TestStore_LoadUnreadableReportsIOError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := filepath.Join(t.TempDir(), "locked.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o000))

	var doc testDoc
	err := New(path).Load(&doc)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
}

func TestStore_AppendCreatesAndExtends(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "journal.json"))

	require.NoError(t, s.Append("entries", map[string]any{"n": 1}))
	require.NoError(t, s.Append("entries", map[string]any{"n": 2}))

	var doc map[string]any
	require.NoError(t, s.Load(&doc))
	list, ok := doc["entries"].([]any)
	require.True(t, ok, "append must build a list under the key")
	assert.Len(t, list, 2)
}

func TestStore_SaveIndentsOutput(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "doc.json"))
	require.NoError(t, s.Save(testDoc{Entries: []string{"a"}}))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "\n  "), "documents are written human-readable")
}

// Any sequence of saves must leave a decodable document on disk.
func TestStore_SavesAlwaysDecodable(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		s := New(filepath.Join(dir, "doc.json"))
		n := rapid.IntRange(1, 8).Draw(rt, "saves")
		for i := 0; i < n; i++ {
			doc := testDoc{
				Entries: rapid.SliceOfN(rapid.String(), 0, 16).Draw(rt, "entries"),
				Label:   rapid.String().Draw(rt, "label"),
			}
			require.NoError(rt, s.Save(doc))

			raw, err := os.ReadFile(s.Path())
			require.NoError(rt, err)
			require.True(rt, json.Valid(raw), "on-disk bytes must always be valid JSON")
		}
	})
}
