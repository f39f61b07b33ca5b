// Package env generates the environment variables an app needs to reach an
// attached addon instance. This is part of the Functional Core - all
// functions are pure; credentials are looked up by the shell and passed in.
package env

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/core/config"
	"github.com/artpar/berth/internal/core/ports"
)

// =============================================================================
// Credentials
// =============================================================================

// Credentials is an instance's credential bundle, populated once at
// instance-creation time by the secrets store.
type Credentials struct {
	// Fields holds the read-write bundle (USER, PASSWORD, DATABASE, VHOST,
	// optionally HOST).
	Fields map[string]string

	// ReadOnly holds the distinct read-only pair, nil when the type does
	// not provision one.
	ReadOnly map[string]string
}

// credential fields that must come from the read-only pair for readonly
// attachments; other fields (DATABASE, VHOST, HOST) are shared.
var readOnlyScopedFields = map[string]bool{
	"USER":     true,
	"PASSWORD": true,
}

// =============================================================================
// Generation
// =============================================================================

// Var is one generated environment variable.
type Var struct {
	Key   string
	Value string
}

// GenerateParams contains all inputs for generating one attachment's
// environment variables.
type GenerateParams struct {
	Reference   string // addon instance reference, for error context
	Alias       string
	Access      config.AccessLevel
	Type        addon.AddonType
	Host        string
	Ports       ports.Assignment
	Credentials Credentials
}

// Generate produces the environment variables for one attachment, in the
// order the type's env template declares them. Variables are named
// {ALIAS}_{SUFFIX}.
func Generate(p GenerateParams) ([]Var, error) {
	if len(p.Type.Env) == 0 {
		return nil, nil
	}

	out := make([]Var, 0, len(p.Type.Env))
	for _, entry := range p.Type.Env {
		value, err := derive(p, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, Var{Key: p.Alias + "_" + entry.Suffix, Value: value})
	}
	return out, nil
}

// derive computes one entry's value per the type's rule table.
func derive(p GenerateParams, entry addon.EnvEntry) (string, error) {
	switch entry.From {
	case addon.FromHost:
		return p.Host, nil

	case addon.FromPort:
		port, ok := p.Ports.Named(entry.Port)
		if !ok {
			return "", NewGenerateError(p.Reference, p.Alias, entry.Port,
				fmt.Sprintf("no allocated port named %q", entry.Port), ErrUnknownPort)
		}
		return strconv.Itoa(port), nil

	case addon.FromCredential:
		return credentialValue(p, entry.CredentialField())

	case addon.FromURL:
		return formatURL(p, entry)

	case addon.FromLiteral:
		return entry.Value, nil

	default:
		return "", NewGenerateError(p.Reference, p.Alias, entry.Suffix,
			fmt.Sprintf("unsupported derivation %q", entry.From), addon.ErrInvalidEnvEntry)
	}
}

// credentialValue selects a bundle field, honoring the access level.
// Readonly attachments draw USER/PASSWORD from the read-only pair only;
// a missing pair is a configuration error, not a fallback.
func credentialValue(p GenerateParams, field string) (string, error) {
	if p.Credentials.Fields == nil {
		return "", NewGenerateError(p.Reference, p.Alias, field,
			"no credentials in secrets store (not yet synced?)", ErrMissingCredential)
	}

	if p.Access == config.AccessReadOnly && readOnlyScopedFields[field] {
		if p.Credentials.ReadOnly == nil {
			return "", NewGenerateError(p.Reference, p.Alias, field,
				fmt.Sprintf("type %q provisions no read-only credentials", p.Type.TypeID),
				ErrReadOnlyCredentialMissing)
		}
		v, ok := p.Credentials.ReadOnly[field]
		if !ok {
			return "", NewGenerateError(p.Reference, p.Alias, field,
				fmt.Sprintf("read-only bundle lacks field %q", field), ErrMissingCredential)
		}
		return v, nil
	}

	// Shared fields may live only in the read-write bundle.
	if p.Access == config.AccessReadOnly {
		if v, ok := p.Credentials.ReadOnly[field]; ok {
			return v, nil
		}
	}
	v, ok := p.Credentials.Fields[field]
	if !ok {
		return "", NewGenerateError(p.Reference, p.Alias, field,
			fmt.Sprintf("credential bundle lacks field %q", field), ErrMissingCredential)
	}
	return v, nil
}

// formatURL synthesizes a connection URL from the already-resolved values.
func formatURL(p GenerateParams, entry addon.EnvEntry) (string, error) {
	values := map[string]string{
		"HOST": p.Host,
		"PORT": strconv.Itoa(p.Ports.Primary()),
	}
	for _, pv := range p.Ports.Ports {
		if pv.Name != "" {
			values["PORT_"+strings.ToUpper(pv.Name)] = strconv.Itoa(pv.Port)
		}
	}
	for field := range p.Credentials.Fields {
		v, err := credentialValue(p, field)
		if err != nil {
			return "", err
		}
		values[field] = v
	}
	if p.Access == config.AccessReadOnly {
		for field := range p.Credentials.ReadOnly {
			v, err := credentialValue(p, field)
			if err != nil {
				return "", err
			}
			values[field] = v
		}
	}

	url := Substitute(entry.Template, values)
	if missing := Unresolved(url); len(missing) > 0 {
		return "", NewGenerateError(p.Reference, p.Alias, missing[0],
			fmt.Sprintf("url template needs %v but the values are unavailable", missing),
			ErrMissingCredential)
	}
	return url, nil
}
