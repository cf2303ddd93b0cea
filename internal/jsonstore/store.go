// Package jsonstore persists small JSON documents with atomic replace
// semantics: a writer that dies mid-save leaves either the previous document
// or the new one on disk, never a torn file.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrFormat marks documents that exist but do not decode.
	ErrFormat = errors.New("malformed store document")
	// ErrIO marks filesystem failures around the document.
	ErrIO = errors.New("store i/o failure")
)

// Stored documents may hold credentials and token digests, so they are
// readable by the owning user only.
const fileMode = 0o600

// Store reads and writes one JSON document at a fixed path. It does no
// locking of its own; the owning registry serializes access.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the backing file has been materialized.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load decodes the document into v. A missing file is not an error: v keeps
// whatever default document the caller seeded it with.
func (s *Store) Load(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", ErrIO, s.path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFormat, s.path, err)
	}
	return nil
}

// Save replaces the document atomically: encode, write a sibling temp file,
// fsync, rename over the target, then tighten permissions.
func (s *Store) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrFormat, s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: preparing %s: %v", ErrIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: staging %s: %v", ErrIO, s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename lands

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %v", ErrIO, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrIO, s.path, err)
	}
	if err := os.Chmod(s.path, fileMode); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrIO, s.path, err)
	}
	return nil
}

// Remove deletes the backing file. Removing a document that was never
// materialized is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrIO, s.path, err)
	}
	return nil
}

// Append loads the document as a generic object, appends entry to the list
// under key (creating the list if absent), and saves the result.
func (s *Store) Append(key string, entry any) error {
	doc := map[string]any{}
	if err := s.Load(&doc); err != nil {
		return err
	}
	list, _ := doc[key].([]any)
	doc[key] = append(list, entry)
	return s.Save(doc)
}
