// Package sandbox confines each client to a private working area: a
// jail directory for files, resource quotas for subprocesses, a
// persisted variable bag, and an in-memory execution context. Nothing
// a client does through the tool surface may touch another client's
// area unless a cross-client permission says so.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"toolgate/internal/audit"
)

// ErrPathEscape is returned when a supplied path would leave the
// client's jail: absolute paths, ".." components, or a normalized
// result outside the jail.
var ErrPathEscape = errors.New("path escapes sandbox")

// Dirs manages the per-client jail directories under a common base.
type Dirs struct {
	base     string
	auditLog *audit.Log
	logger   *zap.SugaredLogger
}

// NewDirs creates the base directory and returns the manager. auditLog
// may be nil; cross-client accesses are then only logged.
func NewDirs(base string, auditLog *audit.Log, logger *zap.SugaredLogger) (*Dirs, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sandbox base: %w", err)
	}
	return &Dirs{base: abs, auditLog: auditLog, logger: logger}, nil
}

// Base returns the absolute sandbox root.
func (d *Dirs) Base() string { return d.base }

// Jail returns the client's directory, creating it on first use.
func (d *Dirs) Jail(clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: empty client id", ErrPathEscape)
	}
	// The id becomes a single path element; reject anything that could
	// splice extra components in.
	if strings.ContainsAny(clientID, "/\\") || clientID == "." || clientID == ".." {
		return "", fmt.Errorf("%w: client id %q is not a valid directory name", ErrPathEscape, clientID)
	}
	jail := filepath.Join(d.base, clientID)
	if err := os.MkdirAll(jail, 0o700); err != nil {
		return "", fmt.Errorf("failed to create client directory: %w", err)
	}
	return jail, nil
}

// Resolve maps a client-supplied relative path to an absolute path
// inside the client's jail. Absolute inputs and any ".." component are
// rejected before normalization; the normalized result must still sit
// under the jail.
func (d *Dirs) Resolve(clientID, rel string) (string, error) {
	jail, err := d.Jail(clientID)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q not allowed", ErrPathEscape, rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: path traversal in %q", ErrPathEscape, rel)
		}
	}
	resolved := filepath.Join(jail, rel)
	if !d.contains(jail, resolved) {
		return "", fmt.Errorf("%w: %q resolves outside the client directory", ErrPathEscape, rel)
	}
	return resolved, nil
}

// ValidateAccess reports whether the client may touch the absolute
// path. Inside the client's own jail access is always granted. Outside
// it, access requires the crossClient flag, and the grant is written
// to the audit trail.
func (d *Dirs) ValidateAccess(clientID, absPath string, crossClient bool) bool {
	jail, err := d.Jail(clientID)
	if err != nil {
		return false
	}
	target := filepath.Clean(absPath)
	if !filepath.IsAbs(target) {
		target = filepath.Join(d.base, target)
	}
	if d.contains(jail, target) {
		return true
	}
	if !crossClient {
		if d.logger != nil {
			d.logger.Warnw("access denied outside client directory",
				"client_id", clientID, "path", target)
		}
		return false
	}
	if d.logger != nil {
		d.logger.Warnw("cross-client access granted",
			"client_id", clientID, "path", target)
	}
	if d.auditLog != nil {
		if err := d.auditLog.CrossClientAccess(clientID, target); err != nil && d.logger != nil {
			d.logger.Errorw("failed to audit cross-client access", "error", err)
		}
	}
	return true
}

// ListFiles returns the jail-relative paths of every regular file in
// the client's directory, in lexical order. A missing jail lists as
// empty.
func (d *Dirs) ListFiles(clientID string) ([]string, error) {
	jail := filepath.Join(d.base, clientID)
	if _, err := os.Stat(jail); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(jail, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			rel, err := filepath.Rel(jail, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list client files: %w", err)
	}
	return files, nil
}

// Clear removes the client's jail and everything in it.
func (d *Dirs) Clear(clientID string) error {
	jail := filepath.Join(d.base, clientID)
	if err := os.RemoveAll(jail); err != nil {
		return fmt.Errorf("failed to clear client directory: %w", err)
	}
	return nil
}

func (d *Dirs) contains(jail, path string) bool {
	return path == jail || strings.HasPrefix(path, jail+string(filepath.Separator))
}
