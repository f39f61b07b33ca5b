package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/addon"
)

// =============================================================================
// Parser
// =============================================================================

var aliasRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ParseProject parses a project's declarative configuration document into
// canonical instance and attachment records.
//
// Two shapes are accepted for addon declarations:
//
//	addons:
//	  databases:                    # nested: category.instance.{type,...}
//	    primary: {type: postgres, version: "15-alpine", plan: small}
//	  postgres:                     # legacy flat: key is a catalog type id
//	    version: "15-alpine"
//
// Legacy entries normalize to a single implicit instance named after the
// type, under the catalog entry's category. Declaration order is preserved
// so allocation order is stable across runs.
//
// Pure function - no I/O; safe to call repeatedly and diff outputs.
func ParseProject(doc *yaml.Node, catalog *addon.Catalog) (*Project, error) {
	root, err := documentRoot(doc)
	if err != nil {
		return nil, err
	}

	proj := &Project{Plans: map[string]addon.Plan{}}

	var addonsNode, appsNode *yaml.Node
	if err := eachPair(root, "", func(key string, value *yaml.Node) error {
		switch key {
		case "project":
			name, err := scalarValue(value, "project")
			if err != nil {
				return err
			}
			proj.Name = name
		case "plans":
			return parsePlans(value, proj)
		case "addons":
			addonsNode = value
		case "apps":
			appsNode = value
		}
		// Unknown top-level keys belong to outer configuration layers.
		return nil
	}); err != nil {
		return nil, err
	}

	if addonsNode != nil {
		if err := parseAddons(addonsNode, catalog, proj); err != nil {
			return nil, err
		}
	}
	if appsNode != nil {
		if err := parseApps(appsNode, proj); err != nil {
			return nil, err
		}
	}

	return proj, nil
}

// =============================================================================
// Addon Declarations
// =============================================================================

// seenInstances tracks declared references and allocation state keys so
// collisions surface at parse time rather than as silently shared ports.
type seenInstances struct {
	refs map[string]bool
	keys map[string]string // StateKey -> reference that claimed it
}

func parseAddons(node *yaml.Node, catalog *addon.Catalog, proj *Project) error {
	seen := &seenInstances{refs: map[string]bool{}, keys: map[string]string{}}

	return eachPair(node, "addons", func(key string, value *yaml.Node) error {
		if catalog.Has(key) {
			// Legacy flat shape: addon_type.{version} with no instance name.
			return parseLegacyInstance(key, value, catalog, proj, seen)
		}
		return eachPair(value, "addons."+key, func(name string, fields *yaml.Node) error {
			return parseNestedInstance(key, name, fields, catalog, proj, seen)
		})
	})
}

func parseLegacyInstance(typeID string, fields *yaml.Node, catalog *addon.Catalog, proj *Project, seen *seenInstances) error {
	t, err := catalog.Resolve(typeID)
	if err != nil {
		return NewError(typeID, err.Error(), err)
	}

	decl := InstanceDecl{
		Category: string(t.Category),
		Name:     typeID,
		TypeID:   typeID,
		Legacy:   true,
	}
	decl.Reference = decl.Category + "." + decl.Name

	if err := parseInstanceFields(fields, decl.Reference, false, &decl); err != nil {
		return err
	}
	return appendInstance(decl, t, proj, seen)
}

func parseNestedInstance(category, name string, fields *yaml.Node, catalog *addon.Catalog, proj *Project, seen *seenInstances) error {
	decl := InstanceDecl{
		Category:  category,
		Name:      name,
		Reference: category + "." + name,
	}

	if err := parseInstanceFields(fields, decl.Reference, true, &decl); err != nil {
		return err
	}
	if decl.TypeID == "" {
		return NewError(decl.Reference, "instance must declare a type", ErrMissingType)
	}

	t, err := catalog.Resolve(decl.TypeID)
	if err != nil {
		return NewError(decl.Reference, fmt.Sprintf("unknown addon type %q", decl.TypeID), err)
	}
	return appendInstance(decl, t, proj, seen)
}

// parseInstanceFields reads the scalar fields of one instance declaration.
// The legacy shape carries no "type" field; anything deeper than scalars is
// a wrong nesting depth.
func parseInstanceFields(fields *yaml.Node, reference string, allowType bool, decl *InstanceDecl) error {
	return eachPair(fields, reference, func(key string, value *yaml.Node) error {
		v, err := scalarValue(value, reference+"."+key)
		if err != nil {
			return err
		}
		switch key {
		case "type":
			if !allowType {
				return NewError(reference, "legacy addon entries cannot declare a type", ErrMalformedConfig)
			}
			decl.TypeID = v
		case "version":
			decl.Version = v
		case "plan":
			decl.PlanName = v
		default:
			return NewError(reference, fmt.Sprintf("unknown instance field %q", key), ErrMalformedConfig)
		}
		return nil
	})
}

func appendInstance(decl InstanceDecl, t addon.AddonType, proj *Project, seen *seenInstances) error {
	if seen.refs[decl.Reference] {
		return NewError(decl.Reference, "instance declared more than once", ErrDuplicateReference)
	}
	seen.refs[decl.Reference] = true

	if other, claimed := seen.keys[decl.StateKey()]; claimed {
		return NewError(decl.Reference,
			fmt.Sprintf("instances %q and %q both map to allocation key %q; rename one of them",
				other, decl.Reference, decl.StateKey()),
			ErrDuplicateStateKey)
	}
	seen.keys[decl.StateKey()] = decl.Reference

	if decl.Version == "" {
		decl.Version = t.DefaultVersion()
	} else if !t.SupportsVersion(decl.Version) {
		return NewError(decl.Reference,
			fmt.Sprintf("type %q does not support version %q (supported: %v)", decl.TypeID, decl.Version, t.Versions),
			ErrUnknownVersion)
	}

	if decl.PlanName != "" {
		_, onType := t.Plan(decl.PlanName)
		_, onProject := proj.Plans[decl.PlanName]
		if !onType && !onProject {
			return NewError(decl.Reference, fmt.Sprintf("plan %q is not defined", decl.PlanName), ErrUnknownPlan)
		}
	}

	proj.Instances = append(proj.Instances, decl)
	return nil
}

// =============================================================================
// App Attachments
// =============================================================================

func parseApps(node *yaml.Node, proj *Project) error {
	return eachPair(node, "apps", func(appName string, appNode *yaml.Node) error {
		aliases := make(map[string]bool)

		return eachPair(appNode, "apps."+appName, func(key string, value *yaml.Node) error {
			if key != "addons" {
				return nil
			}
			value = deref(value)
			if value.Kind != yaml.SequenceNode {
				return NewError("apps."+appName+".addons", "expected a list of attachments", ErrMalformedConfig)
			}
			for _, item := range value.Content {
				att, err := parseAttachment(appName, item, proj)
				if err != nil {
					return err
				}
				if aliases[att.Alias] {
					return NewError(att.AddonReference,
						fmt.Sprintf("app %q already has an attachment with alias %q", appName, att.Alias),
						ErrDuplicateAlias)
				}
				aliases[att.Alias] = true
				proj.Attachments = append(proj.Attachments, att)
			}
			return nil
		})
	})
}

func parseAttachment(appName string, item *yaml.Node, proj *Project) (AttachmentDecl, error) {
	att := AttachmentDecl{AppName: appName, Access: AccessReadWrite}

	if err := eachPair(item, "apps."+appName+".addons", func(key string, value *yaml.Node) error {
		v, err := scalarValue(value, "apps."+appName+".addons."+key)
		if err != nil {
			return err
		}
		switch key {
		case "addon":
			att.AddonReference = v
		case "as":
			att.Alias = v
		case "access":
			att.Access = AccessLevel(v)
		default:
			return NewError("apps."+appName, fmt.Sprintf("unknown attachment field %q", key), ErrMalformedConfig)
		}
		return nil
	}); err != nil {
		return AttachmentDecl{}, err
	}

	if att.AddonReference == "" {
		return AttachmentDecl{}, NewError("apps."+appName, "attachment must name an addon", ErrMalformedConfig)
	}
	inst, ok := proj.Instance(att.AddonReference)
	if !ok {
		return AttachmentDecl{}, NewError(att.AddonReference,
			fmt.Sprintf("app %q references addon %q but no such instance is declared", appName, att.AddonReference),
			ErrDanglingReference)
	}
	if att.Alias == "" {
		att.Alias = DefaultAlias(inst.Name)
	}
	if !aliasRegex.MatchString(att.Alias) {
		return AttachmentDecl{}, NewError(att.AddonReference,
			fmt.Sprintf("alias %q is not a valid env var prefix", att.Alias), ErrInvalidAlias)
	}
	if !att.Access.IsValid() {
		return AttachmentDecl{}, NewError(att.AddonReference,
			fmt.Sprintf("access must be readwrite or readonly, got %q", att.Access), ErrInvalidAccess)
	}

	return att, nil
}

// =============================================================================
// Project Plans
// =============================================================================

func parsePlans(node *yaml.Node, proj *Project) error {
	return eachPair(node, "plans", func(name string, value *yaml.Node) error {
		var p addon.Plan
		if err := value.Decode(&p); err != nil {
			return NewError("plans."+name, "plan must declare memory_mb and cpu_cores", ErrMalformedConfig)
		}
		if p.MemoryMB <= 0 || p.CPUCores <= 0 {
			return NewError("plans."+name, "plan must declare positive memory_mb and cpu_cores", ErrMalformedConfig)
		}
		proj.Plans[name] = p
		return nil
	})
}

// =============================================================================
// YAML Node Helpers
// =============================================================================

func documentRoot(doc *yaml.Node) (*yaml.Node, error) {
	if doc == nil {
		return nil, NewError("", "empty configuration document", ErrMalformedConfig)
	}
	node := doc
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, NewError("", "empty configuration document", ErrMalformedConfig)
		}
		node = node.Content[0]
	}
	node = deref(node)
	if node.Kind != yaml.MappingNode {
		return nil, NewError("", "configuration root must be a mapping", ErrMalformedConfig)
	}
	return node, nil
}

// eachPair walks a mapping node in declaration order.
func eachPair(node *yaml.Node, path string, fn func(key string, value *yaml.Node) error) error {
	node = deref(node)
	if node.Kind != yaml.MappingNode {
		return NewError(path, "expected a mapping", ErrMalformedConfig)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || keyNode.Tag == "!!null" {
			return NewError(path, "mapping keys must be strings", ErrMalformedConfig)
		}
		if err := fn(keyNode.Value, valueNode); err != nil {
			return err
		}
	}
	return nil
}

func scalarValue(node *yaml.Node, path string) (string, error) {
	node = deref(node)
	if node.Kind != yaml.ScalarNode {
		return "", NewError(path, "expected a scalar value", ErrMalformedConfig)
	}
	return node.Value, nil
}

func deref(node *yaml.Node) *yaml.Node {
	if node != nil && node.Kind == yaml.AliasNode && node.Alias != nil {
		return node.Alias
	}
	return node
}
