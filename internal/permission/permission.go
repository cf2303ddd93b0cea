// Package permission implements capability-based authorization: permission
// values, grant matching, and the per-client engine that answers allow/deny.
package permission

import (
	"fmt"
	"slices"

	"github.com/gobwas/glob"
)

// Type tags a capability. The set is closed; unknown tags never match.
type Type string

const (
	TypeFileRead         Type = "file-read"
	TypeFileWrite        Type = "file-write"
	TypeFileDelete       Type = "file-delete"
	TypeCodeExec         Type = "code-exec"
	TypeCodeExecElevated Type = "code-exec-elevated"
	TypeSystemCommand    Type = "system-command"
	TypeNetworkOut       Type = "network-out"
	TypeNetworkListen    Type = "network-listen"
	TypeProcessSpawn     Type = "process-spawn"
	TypeProcessKill      Type = "process-kill"
	TypeCrossClientRead  Type = "cross-client-read"
	TypeCrossClientWrite Type = "cross-client-write"
	TypeQuotaOverride    Type = "quota-override"
)

// knownTypes gates deserialized values from policy files and stores.
var knownTypes = map[Type]struct{}{
	TypeFileRead: {}, TypeFileWrite: {}, TypeFileDelete: {},
	TypeCodeExec: {}, TypeCodeExecElevated: {}, TypeSystemCommand: {},
	TypeNetworkOut: {}, TypeNetworkListen: {},
	TypeProcessSpawn: {}, TypeProcessKill: {},
	TypeCrossClientRead: {}, TypeCrossClientWrite: {}, TypeQuotaOverride: {},
}

// ValidType reports whether t belongs to the closed capability set.
func ValidType(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Permission is a capability value. As a grant it describes what a client
// may do; as a requirement it describes what an operation needs.
type Permission struct {
	Type       Type           `json:"type" yaml:"type"`
	Resource   string         `json:"resource,omitempty" yaml:"resource,omitempty"`
	Whitelist  []string       `json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	Restricted bool           `json:"restricted,omitempty" yaml:"restricted,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// String renders the capability for audit rows and error text.
func (p Permission) String() string {
	if p.Resource != "" {
		return fmt.Sprintf("%s:%s", p.Type, p.Resource)
	}
	if len(p.Whitelist) > 0 {
		return fmt.Sprintf("%s:%v", p.Type, p.Whitelist)
	}
	return string(p.Type)
}

// Equal reports exact grant equality, used to skip duplicate grants.
func (p Permission) Equal(o Permission) bool {
	return p.Type == o.Type &&
		p.Resource == o.Resource &&
		p.Restricted == o.Restricted &&
		slices.Equal(p.Whitelist, o.Whitelist)
}

// Matches reports whether this grant satisfies the required capability.
//
// Rules: types must be equal; a grant with no resource is a wildcard;
// a scoped grant never satisfies a requirement without a resource; file-ish
// types compare by glob where * crosses path separators; system commands
// compare by whitelist membership or equality; everything else compares by
// equality.
func (p Permission) Matches(required Permission) bool {
	if p.Type != required.Type {
		return false
	}
	if p.Resource == "" && len(p.Whitelist) == 0 {
		return true
	}
	if required.Resource == "" {
		return false
	}

	switch p.Type {
	case TypeFileRead, TypeFileWrite, TypeFileDelete, TypeCrossClientRead, TypeCrossClientWrite:
		return globMatch(p.Resource, required.Resource)
	case TypeSystemCommand:
		if len(p.Whitelist) > 0 {
			return slices.Contains(p.Whitelist, required.Resource)
		}
		return p.Resource == required.Resource
	default:
		return p.Resource == required.Resource
	}
}

// globMatch compiles the pattern without separator classes so that a single
// * spans directory boundaries, the way path grants are written.
func globMatch(pattern, value string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return pattern == value
	}
	return g.Match(value)
}

// DefaultSet is the conservative grant set installed for clients that were
// never configured: read the shared data tree, run ls and echo.
func DefaultSet() []Permission {
	return []Permission{
		{Type: TypeFileRead, Resource: "/app/data/*"},
		{Type: TypeSystemCommand, Resource: "ls"},
		{Type: TypeSystemCommand, Resource: "echo"},
	}
}
