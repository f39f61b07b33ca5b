// Package addon contains the catalog types describing the addon templates
// a project can instantiate. This is part of the Functional Core - all
// functions are pure with no I/O; the catalog directory is read by the
// shell loader, never by this package.
package addon

import "sort"

// =============================================================================
// Category
// =============================================================================

// Category classifies an addon type.
type Category string

const (
	CategoryDatabase   Category = "database"
	CategoryCache      Category = "cache"
	CategoryQueue      Category = "queue"
	CategoryProxy      Category = "proxy"
	CategoryMonitoring Category = "monitoring"
)

// IsValid checks if the category is one of the known values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryDatabase, CategoryCache, CategoryQueue, CategoryProxy, CategoryMonitoring:
		return true
	default:
		return false
	}
}

// =============================================================================
// Env Template Entries
// =============================================================================

// DerivationKind selects how an env template entry derives its value.
type DerivationKind string

const (
	// FromHost emits the instance's resolved network location.
	FromHost DerivationKind = "host"
	// FromPort emits an allocated port (Port selects a named port).
	FromPort DerivationKind = "port"
	// FromCredential emits a field from the instance credential bundle.
	FromCredential DerivationKind = "credential"
	// FromURL formats a connection-URL template against resolved values.
	FromURL DerivationKind = "url"
	// FromLiteral emits a fixed value.
	FromLiteral DerivationKind = "literal"
)

// IsValid checks if the derivation kind is one of the known values.
func (k DerivationKind) IsValid() bool {
	switch k {
	case FromHost, FromPort, FromCredential, FromURL, FromLiteral:
		return true
	default:
		return false
	}
}

// EnvEntry is one entry of an addon type's ordered env template.
// The generated variable is named {ALIAS}_{Suffix}.
type EnvEntry struct {
	Suffix   string         `yaml:"suffix"`
	From     DerivationKind `yaml:"from"`
	Field    string         `yaml:"field,omitempty"`    // credential field; defaults to Suffix
	Port     string         `yaml:"port,omitempty"`     // named port selector; empty = primary
	Template string         `yaml:"template,omitempty"` // url template with ${VAR} placeholders
	Value    string         `yaml:"value,omitempty"`    // literal value
}

// CredentialField returns the credential bundle field this entry reads.
func (e EnvEntry) CredentialField() string {
	if e.Field != "" {
		return e.Field
	}
	return e.Suffix
}

// =============================================================================
// Ports and Plans
// =============================================================================

// NamedPort declares one port of a multi-port addon type as an offset from
// the allocated base candidate (e.g. rabbitmq management = +10000).
type NamedPort struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
}

// Plan is a named resource tier.
type Plan struct {
	MemoryMB int64   `yaml:"memory_mb"`
	CPUCores float64 `yaml:"cpu_cores"`
}

// =============================================================================
// AddonType
// =============================================================================

// AddonType is the immutable template metadata for one addon type.
// Loaded once per process from the catalog directory; never mutated.
type AddonType struct {
	TypeID           string          `yaml:"type"`
	Category         Category        `yaml:"category"`
	Versions         []string        `yaml:"versions"`
	BasePort         int             `yaml:"base_port"`
	PortStep         int             `yaml:"port_step"`
	Ports            []NamedPort     `yaml:"ports,omitempty"`
	Env              []EnvEntry      `yaml:"env"`
	Plans            map[string]Plan `yaml:"plans,omitempty"`
	SupportsReadOnly bool            `yaml:"supports_readonly"`
	ComposeTemplate  string          `yaml:"compose,omitempty"`
}

// SupportsVersion checks if the version is in the supported list.
func (t AddonType) SupportsVersion(version string) bool {
	for _, v := range t.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// DefaultVersion returns the first (preferred) supported version.
func (t AddonType) DefaultVersion() string {
	if len(t.Versions) == 0 {
		return ""
	}
	return t.Versions[0]
}

// Plan looks up a named resource tier on this type.
func (t AddonType) Plan(name string) (Plan, bool) {
	p, ok := t.Plans[name]
	return p, ok
}

// PlanNames returns the type's plan names in sorted order.
func (t AddonType) PlanNames() []string {
	names := make([]string, 0, len(t.Plans))
	for name := range t.Plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MultiPort reports whether the type allocates a block of named ports.
func (t AddonType) MultiPort() bool {
	return len(t.Ports) > 0
}
