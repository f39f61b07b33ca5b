// Package provision orchestrates one CLI invocation over the functional
// core: parse configuration, allocate ports against persisted state,
// ensure credentials, generate per-attachment environment variables, and
// assemble the registry view.
package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/core/config"
	"github.com/artpar/berth/internal/core/env"
	"github.com/artpar/berth/internal/core/ports"
	"github.com/artpar/berth/internal/core/registry"
	"github.com/artpar/berth/internal/shell/secrets"
	"github.com/artpar/berth/internal/shell/state"
)

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner wires the shell stores to the core pipeline for one project.
type Provisioner struct {
	Catalog *addon.Catalog
	State   *state.Store
	Secrets *secrets.Store
	Logger  *slog.Logger
}

// Options controls read-only view assembly.
type Options struct {
	// GenerateEnv renders attachment environment variables from stored
	// credentials. Fails if the secrets store has no bundle yet.
	GenerateEnv bool
}

// =============================================================================
// Up: the full allocation pass
// =============================================================================

// Up runs the full pipeline. The allocation state lock is held for the
// whole pass so concurrent invocations serialize; each new allocation is
// persisted immediately, so an interrupted run loses only unpersisted
// in-flight work.
func (p *Provisioner) Up(ctx context.Context, doc *yaml.Node) (*registry.View, error) {
	proj, err := config.ParseProject(doc, p.Catalog)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("configuration parsed",
		"project", proj.Name,
		"instances", len(proj.Instances),
		"attachments", len(proj.Attachments),
	)

	release, err := p.State.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := p.State.Load()
	if err != nil {
		return nil, err
	}

	allocations, err := p.allocate(proj, st)
	if err != nil {
		return nil, err
	}

	removed, err := p.markRemoved(proj, st)
	if err != nil {
		return nil, err
	}

	attachments, err := p.generateEnv(ctx, proj, allocations, true)
	if err != nil {
		return nil, err
	}

	return registry.Assemble(registry.AssembleParams{
		Project:     proj.Name,
		Catalog:     p.Catalog,
		Instances:   proj.Instances,
		Plans:       proj.Plans,
		Allocations: allocations,
		Removed:     removed,
		Attachments: attachments,
	})
}

// allocate assigns ports in declaration order. Recorded assignments are
// returned unchanged; new instances probe from the type's base port.
func (p *Provisioner) allocate(proj *config.Project, st *state.State) (map[string]ports.Assignment, error) {
	allocations := make(map[string]ports.Assignment, len(proj.Instances))

	for _, decl := range proj.Instances {
		t, err := p.Catalog.Resolve(decl.TypeID)
		if err != nil {
			return nil, err
		}
		layout := ports.LayoutForType(t)
		key := decl.StateKey()

		if existing, ok := st.Allocations[key]; ok {
			asg := existing.Assignment(layout)
			allocations[key] = asg
			// Confirm the entry; also clears a removed stamp if the
			// declaration reappeared.
			if err := p.State.Record(st, key, existing); err != nil {
				return nil, err
			}
			continue
		}

		asg, err := ports.Allocate(st.UsedPorts(), layout)
		if err != nil {
			var allocErr *ports.AllocationError
			if errors.As(err, &allocErr) {
				return nil, allocErr.WithReference(decl.Reference)
			}
			return nil, err
		}
		if err := p.State.Record(st, key, state.FromAssignment(asg)); err != nil {
			return nil, err
		}
		allocations[key] = asg
		p.Logger.Info("port allocated",
			"reference", decl.Reference,
			"type", decl.TypeID,
			"ports", asg.String(),
		)
	}

	return allocations, nil
}

// markRemoved stamps state entries whose declaration disappeared. Their
// ports stay reserved until an explicit gc pass.
func (p *Provisioner) markRemoved(proj *config.Project, st *state.State) ([]registry.RemovedInstance, error) {
	declared := make(map[string]bool, len(proj.Instances))
	for _, decl := range proj.Instances {
		declared[decl.StateKey()] = true
	}

	var removed []registry.RemovedInstance
	for _, key := range st.Keys() {
		if declared[key] {
			continue
		}
		if err := p.State.MarkRemoved(st, key, time.Now()); err != nil {
			return nil, err
		}
		removed = append(removed, registry.RemovedInstance{
			StateKey: key,
			Ports:    st.Allocations[key].Assignment(ports.Layout{}),
		})
		p.Logger.Info("instance removed from configuration, port reserved", "key", key)
	}
	return removed, nil
}

// generateEnv builds the attachment records. When ensure is true, missing
// credential bundles are generated (instance creation); otherwise they must
// already exist in the secrets store.
func (p *Provisioner) generateEnv(ctx context.Context, proj *config.Project, allocations map[string]ports.Assignment, ensure bool) ([]registry.AddonAttachment, error) {
	creds := make(map[string]env.Credentials, len(proj.Instances))
	for _, decl := range proj.Instances {
		t, err := p.Catalog.Resolve(decl.TypeID)
		if err != nil {
			return nil, err
		}
		var bundle env.Credentials
		if ensure {
			bundle, err = p.Secrets.Ensure(ctx, t, decl.Name)
		} else {
			bundle, err = p.Secrets.Get(ctx, decl.TypeID, decl.Name)
		}
		if err != nil {
			return nil, err
		}
		creds[decl.Reference] = bundle
	}

	attachments := make([]registry.AddonAttachment, 0, len(proj.Attachments))
	for _, att := range proj.Attachments {
		decl, _ := proj.Instance(att.AddonReference)
		t, err := p.Catalog.Resolve(decl.TypeID)
		if err != nil {
			return nil, err
		}
		bundle := creds[att.AddonReference]

		vars, err := env.Generate(env.GenerateParams{
			Reference:   att.AddonReference,
			Alias:       att.Alias,
			Access:      att.Access,
			Type:        t,
			Host:        resolveHost(proj.Name, decl, bundle),
			Ports:       allocations[decl.StateKey()],
			Credentials: bundle,
		})
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, registry.AddonAttachment{
			AppName:        att.AppName,
			AddonReference: att.AddonReference,
			Alias:          att.Alias,
			Access:         att.Access,
			Env:            vars,
		})
	}
	return attachments, nil
}

// resolveHost uses the credential bundle's pinned HOST when present,
// otherwise the derived service hostname.
func resolveHost(project string, decl config.InstanceDecl, bundle env.Credentials) string {
	if host, ok := bundle.Fields["HOST"]; ok && host != "" {
		return host
	}
	return registry.ServiceHostname(project, decl.TypeID, decl.Name)
}

// =============================================================================
// Read-only views and garbage collection
// =============================================================================

// View assembles the registry without allocating or generating credentials.
// Used by reporting commands.
func (p *Provisioner) View(ctx context.Context, doc *yaml.Node, opts Options) (*registry.View, error) {
	proj, err := config.ParseProject(doc, p.Catalog)
	if err != nil {
		return nil, err
	}

	st, err := p.State.Load()
	if err != nil {
		return nil, err
	}

	allocations := make(map[string]ports.Assignment)
	declared := make(map[string]bool, len(proj.Instances))
	for _, decl := range proj.Instances {
		declared[decl.StateKey()] = true
		t, err := p.Catalog.Resolve(decl.TypeID)
		if err != nil {
			return nil, err
		}
		if a, ok := st.Allocations[decl.StateKey()]; ok {
			allocations[decl.StateKey()] = a.Assignment(ports.LayoutForType(t))
		}
	}

	var removed []registry.RemovedInstance
	for _, key := range st.Keys() {
		if !declared[key] {
			removed = append(removed, registry.RemovedInstance{
				StateKey: key,
				Ports:    st.Allocations[key].Assignment(ports.Layout{}),
			})
		}
	}

	var attachments []registry.AddonAttachment
	if opts.GenerateEnv {
		attachments, err = p.generateEnv(ctx, proj, allocations, false)
		if err != nil {
			return nil, err
		}
	} else {
		for _, att := range proj.Attachments {
			attachments = append(attachments, registry.AddonAttachment{
				AppName:        att.AppName,
				AddonReference: att.AddonReference,
				Alias:          att.Alias,
				Access:         att.Access,
			})
		}
	}

	return registry.Assemble(registry.AssembleParams{
		Project:     proj.Name,
		Catalog:     p.Catalog,
		Instances:   proj.Instances,
		Plans:       proj.Plans,
		Allocations: allocations,
		Removed:     removed,
		Attachments: attachments,
	})
}

// Collect garbage-collects allocation entries (and credential bundles) of
// removed instances stamped at least olderThan ago. Returns the reclaimed
// state keys.
func (p *Provisioner) Collect(ctx context.Context, olderThan time.Duration) ([]string, error) {
	release, err := p.State.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := p.State.Load()
	if err != nil {
		return nil, err
	}

	collected, err := p.State.Collect(st, olderThan, time.Now())
	if err != nil {
		return nil, err
	}

	for _, key := range collected {
		typeID, name := splitKey(key)
		if err := p.Secrets.Delete(ctx, typeID, name); err != nil {
			return nil, err
		}
		p.Logger.Info("allocation reclaimed", "key", key)
	}
	return collected, nil
}

func splitKey(key string) (typeID, name string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
