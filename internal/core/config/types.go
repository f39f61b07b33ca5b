// Package config contains pure functions for parsing a project's declarative
// addon and attachment configuration into canonical records. This is part of
// the Functional Core - no I/O beyond the already-loaded YAML document.
package config

import (
	"strings"

	"github.com/artpar/berth/internal/core/addon"
)

// =============================================================================
// Access Levels
// =============================================================================

// AccessLevel is the credential access an attachment requests.
type AccessLevel string

const (
	AccessReadWrite AccessLevel = "readwrite"
	AccessReadOnly  AccessLevel = "readonly"
)

// IsValid checks if the access level is one of the known values.
func (a AccessLevel) IsValid() bool {
	return a == AccessReadWrite || a == AccessReadOnly
}

// =============================================================================
// Canonical Declarations
// =============================================================================

// InstanceDecl is the canonical form of one declared addon instance.
// Both the nested and the legacy flat configuration shapes normalize to
// this record before any downstream component sees them.
type InstanceDecl struct {
	Reference string // "category.name", unique per project
	Category  string
	Name      string
	TypeID    string
	Version   string
	PlanName  string
	Legacy    bool // declared via the legacy flat shape
}

// StateKey returns the persisted allocation state key for this instance,
// "{type_id}.{instance_name}".
func (d InstanceDecl) StateKey() string {
	return d.TypeID + "." + d.Name
}

// AttachmentDecl is one app's declared link to an addon instance.
type AttachmentDecl struct {
	AppName        string
	AddonReference string
	Alias          string // env var prefix; defaulted when omitted
	Access         AccessLevel
}

// Project is the parsed, canonical project configuration.
type Project struct {
	Name        string
	Instances   []InstanceDecl
	Attachments []AttachmentDecl
	Plans       map[string]addon.Plan // project-level plan table, overrides type plans
}

// Instance looks up a declared instance by reference.
func (p *Project) Instance(reference string) (InstanceDecl, bool) {
	for _, d := range p.Instances {
		if d.Reference == reference {
			return d, true
		}
	}
	return InstanceDecl{}, false
}

// AttachmentsFor returns the attachments targeting the given reference,
// in declaration order.
func (p *Project) AttachmentsFor(reference string) []AttachmentDecl {
	var out []AttachmentDecl
	for _, a := range p.Attachments {
		if a.AddonReference == reference {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// Alias Derivation
// =============================================================================

// DefaultAlias derives the env var prefix from an instance name when the
// attachment omits "as": upper-cased, non-alphanumerics collapsed to "_".
//
// Example:
//
//	DefaultAlias("primary")    // returns "PRIMARY"
//	DefaultAlias("my-cache-2") // returns "MY_CACHE_2"
func DefaultAlias(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
