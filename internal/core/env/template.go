package env

import "regexp"

// =============================================================================
// URL Template Substitution
// =============================================================================

// placeholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: Default value (optional, after :-)
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Substitute replaces ${VAR} and ${VAR:-default} placeholders with values
// from the map. Placeholders without a value and without a default are left
// unchanged so Unresolved can report them.
//
// Examples:
//
//	Substitute("postgres://${HOST}:${PORT}", map[string]string{"HOST": "db", "PORT": "5432"})
//	// Returns: "postgres://db:5432"
//
//	Substitute("${VHOST:-/}", map[string]string{})
//	// Returns: "/"
func Substitute(template string, values map[string]string) string {
	if values == nil {
		values = map[string]string{}
	}

	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		name := submatch[1]
		if val, ok := values[name]; ok {
			return val
		}
		// ${VAR:-default} carries ":-" even when the default is empty.
		if len(match) > len(name)+3 && match[2+len(name)] == ':' {
			return submatch[2]
		}
		return match
	})
}

// Unresolved returns the names of placeholders still present in a string
// after substitution, in order of appearance.
func Unresolved(s string) []string {
	var names []string
	for _, m := range placeholderRegex.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}
