package toolkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"toolgate/internal/permission"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/tools"
)

// resolvePath maps a caller-supplied path into the caller's jail. A
// path that escapes the jail is still usable when the caller holds a
// cross-client grant of crossType covering the target; the grant is
// recorded in the audit trail. Without one the original escape error
// stands.
func (k *kit) resolvePath(caller tools.Caller, path string, crossType permission.Type) (string, error) {
	resolved, err := k.deps.Dirs.Resolve(caller.ClientID, path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, sandbox.ErrPathEscape) {
		return "", err
	}

	target := filepath.Clean(path)
	if !filepath.IsAbs(target) {
		jail, jerr := k.deps.Dirs.Jail(caller.ClientID)
		if jerr != nil {
			return "", err
		}
		target = filepath.Join(jail, path)
	}
	required := permission.Permission{Type: crossType, Resource: target}
	if !k.deps.Permissions.Has(caller.ClientID, required) {
		return "", err
	}
	if !k.deps.Dirs.ValidateAccess(caller.ClientID, target, true) {
		return "", err
	}
	return target, nil
}

func (k *kit) readFile() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "read_file",
		Description: "Reads a file from the caller's working directory",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"path": {Type: "string", Description: "Path relative to the working directory"},
		}, "path"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"path":    {Type: "string"},
			"content": {Type: "string"},
			"size":    {Type: "integer"},
		}},
		Permissions: []permission.Permission{{Type: permission.TypeFileRead, Resource: "*"}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			path, _ := params["path"].(string)
			resolved, err := k.resolvePath(caller, path, permission.TypeCrossClientRead)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return map[string]any{
				"path":    path,
				"content": string(data),
				"size":    len(data),
			}, nil
		},
	}
}

func (k *kit) writeFile() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "write_file",
		Description: "Writes a file inside the caller's working directory",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"path":    {Type: "string", Description: "Path relative to the working directory"},
			"content": {Type: "string", Description: "File contents"},
		}, "path", "content"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"path":          {Type: "string"},
			"bytes_written": {Type: "integer"},
		}},
		Permissions: []permission.Permission{{Type: permission.TypeFileWrite, Resource: "*"}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			path, _ := params["path"].(string)
			content, _ := params["content"].(string)
			resolved, err := k.resolvePath(caller, path, permission.TypeCrossClientWrite)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
				return nil, fmt.Errorf("failed to create parent directory for %s: %w", path, err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o600); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", path, err)
			}
			return map[string]any{
				"path":          path,
				"bytes_written": len(content),
			}, nil
		},
	}
}

func (k *kit) deleteFile() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "delete_file",
		Description: "Deletes a file from the caller's working directory",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"path": {Type: "string", Description: "Path relative to the working directory"},
		}, "path"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"path":    {Type: "string"},
			"deleted": {Type: "boolean"},
		}},
		Permissions: []permission.Permission{{Type: permission.TypeFileDelete, Resource: "*"}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			path, _ := params["path"].(string)
			resolved, err := k.resolvePath(caller, path, permission.TypeCrossClientWrite)
			if err != nil {
				return nil, err
			}
			if err := os.Remove(resolved); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", path, err)
			}
			return map[string]any{
				"path":    path,
				"deleted": true,
			}, nil
		},
	}
}

func (k *kit) listFiles() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "list_files",
		Description: "Lists the files in the caller's working directory",
		InputSchema: schema.NewInput(nil),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"files": {Type: "array"},
			"count": {Type: "integer"},
		}},
		Permissions: []permission.Permission{{Type: permission.TypeFileRead, Resource: "*"}},
		Handler: func(_ context.Context, caller tools.Caller, _ map[string]any) (any, error) {
			files, err := k.deps.Dirs.ListFiles(caller.ClientID)
			if err != nil {
				return nil, err
			}
			if files == nil {
				files = []string{}
			}
			return map[string]any{
				"files": files,
				"count": len(files),
			}, nil
		},
	}
}
