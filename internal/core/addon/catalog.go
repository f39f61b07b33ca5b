package addon

import (
	"fmt"
	"regexp"
	"sort"
)

// =============================================================================
// Catalog
// =============================================================================

// Catalog is a read-only lookup table of addon types, keyed by type id.
// It performs no merging or decision logic.
type Catalog struct {
	types map[string]AddonType
}

// NewCatalog builds a catalog from validated addon types.
// Returns an error on duplicate type ids or invalid entries.
func NewCatalog(types []AddonType) (*Catalog, error) {
	byID := make(map[string]AddonType, len(types))
	for _, t := range types {
		if errs := ValidateType(t); len(errs) > 0 {
			return nil, fmt.Errorf("addon type %q: %w", t.TypeID, errs[0])
		}
		if _, exists := byID[t.TypeID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, t.TypeID)
		}
		byID[t.TypeID] = t
	}
	return &Catalog{types: byID}, nil
}

// Resolve looks up an addon type by id.
func (c *Catalog) Resolve(typeID string) (AddonType, error) {
	t, ok := c.types[typeID]
	if !ok {
		return AddonType{}, &UnknownTypeError{TypeID: typeID}
	}
	return t, nil
}

// Has reports whether the type id exists in the catalog.
func (c *Catalog) Has(typeID string) bool {
	_, ok := c.types[typeID]
	return ok
}

// Types returns all catalog entries sorted by type id.
func (c *Catalog) Types() []AddonType {
	out := make([]AddonType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeID < out[j].TypeID })
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.types)
}

// =============================================================================
// Validation Functions (Pure)
// =============================================================================

var typeIDRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidateType validates an addon type and returns all validation errors.
func ValidateType(t AddonType) []error {
	var errs []error

	if t.TypeID == "" {
		errs = append(errs, ErrTypeIDRequired)
	} else if !typeIDRegex.MatchString(t.TypeID) {
		errs = append(errs, fmt.Errorf("%w: %q must match %s", ErrTypeIDRequired, t.TypeID, typeIDRegex))
	}
	if !t.Category.IsValid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidCategory, t.Category))
	}
	if len(t.Versions) == 0 {
		errs = append(errs, ErrNoVersions)
	}
	if t.BasePort < 1 || t.BasePort > 65535 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidBasePort, t.BasePort))
	}
	if t.PortStep < 0 {
		errs = append(errs, ErrInvalidPortStep)
	}

	portNames := make(map[string]bool, len(t.Ports))
	for _, p := range t.Ports {
		if p.Name == "" || portNames[p.Name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicatePort, p.Name))
			continue
		}
		if p.Offset < 0 {
			errs = append(errs, fmt.Errorf("%w: port %q", ErrNegativeOffset, p.Name))
		}
		portNames[p.Name] = true
	}

	errs = append(errs, validateEnvTemplate(t, portNames)...)

	for name, p := range t.Plans {
		if p.MemoryMB <= 0 || p.CPUCores <= 0 {
			errs = append(errs, fmt.Errorf("%w: plan %q", ErrInvalidPlan, name))
		}
	}

	return errs
}

// validateEnvTemplate checks the ordered env entries of a type.
func validateEnvTemplate(t AddonType, portNames map[string]bool) []error {
	var errs []error

	if len(t.Env) == 0 {
		errs = append(errs, ErrNoEnvTemplate)
		return errs
	}

	suffixes := make(map[string]bool, len(t.Env))
	for _, e := range t.Env {
		if e.Suffix == "" {
			errs = append(errs, fmt.Errorf("%w: empty suffix", ErrInvalidEnvEntry))
			continue
		}
		if suffixes[e.Suffix] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateSuffix, e.Suffix))
			continue
		}
		suffixes[e.Suffix] = true

		if !e.From.IsValid() {
			errs = append(errs, fmt.Errorf("%w: suffix %q has derivation %q", ErrInvalidEnvEntry, e.Suffix, e.From))
			continue
		}
		switch e.From {
		case FromPort:
			if e.Port != "" && !portNames[e.Port] {
				errs = append(errs, fmt.Errorf("%w: suffix %q references %q", ErrUnknownPortName, e.Suffix, e.Port))
			}
		case FromURL:
			if e.Template == "" {
				errs = append(errs, fmt.Errorf("%w: suffix %q needs a template", ErrInvalidEnvEntry, e.Suffix))
			}
		case FromLiteral:
			if e.Value == "" {
				errs = append(errs, fmt.Errorf("%w: suffix %q needs a value", ErrInvalidEnvEntry, e.Suffix))
			}
		}
	}

	return errs
}
