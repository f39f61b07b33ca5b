// Package registry assembles parsed configuration, catalog metadata,
// allocated ports, and generated environment variables into the addon
// instance view consumed by CLI reporting and the external template
// renderer. Read-only composition - all invariants are enforced upstream.
package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/core/config"
	"github.com/artpar/berth/internal/core/env"
	"github.com/artpar/berth/internal/core/ports"
)

// =============================================================================
// Records
// =============================================================================

// AddonInstance is a named, project-scoped instantiation of an addon type.
type AddonInstance struct {
	ReferenceID string // addon_xxxxxxxx
	Reference   string // category.name, unique per project
	Category    string
	Name        string
	TypeID      string
	Version     string
	PlanName    string
	Plan        addon.Plan
	Host        string
	Ports       ports.Assignment
	Status      Status
	Legacy      bool
}

// AddonAttachment is a declared relationship from one app to one instance,
// with its generated environment variables.
type AddonAttachment struct {
	AppName        string
	AddonReference string
	Alias          string
	Access         config.AccessLevel
	Env            []env.Var
}

// View is the assembled registry handed to reporting and the renderer.
type View struct {
	Project     string
	Instances   []AddonInstance
	Attachments []AddonAttachment
}

// Instance looks up an instance by reference.
func (v *View) Instance(reference string) (*AddonInstance, bool) {
	for i := range v.Instances {
		if v.Instances[i].Reference == reference {
			return &v.Instances[i], true
		}
	}
	return nil, false
}

// AttachmentsFor returns the attachments targeting the given reference.
func (v *View) AttachmentsFor(reference string) []AddonAttachment {
	var out []AddonAttachment
	for _, a := range v.Attachments {
		if a.AddonReference == reference {
			out = append(out, a)
		}
	}
	return out
}

// NewReferenceID generates a short opaque id for an instance record.
func NewReferenceID() string {
	return "addon_" + uuid.New().String()[:8]
}

// =============================================================================
// Assembly
// =============================================================================

// RemovedInstance is an allocation state entry whose declaration is gone.
// Its ports stay reserved until an explicit garbage-collection pass.
type RemovedInstance struct {
	StateKey string // "{type_id}.{instance_name}"
	Ports    ports.Assignment
}

// AssembleParams contains all inputs for building the registry view.
type AssembleParams struct {
	Project     string
	Catalog     *addon.Catalog
	Instances   []config.InstanceDecl
	Plans       map[string]addon.Plan // project-level plan table
	Allocations map[string]ports.Assignment
	Deployed    map[string]bool // references the external deployer reports live
	Removed     []RemovedInstance
	Attachments []AddonAttachment // env already generated
}

// Assemble joins the inputs into the final view. Instances keep declaration
// order; removed state entries are appended after them.
func Assemble(p AssembleParams) (*View, error) {
	view := &View{
		Project:     p.Project,
		Instances:   make([]AddonInstance, 0, len(p.Instances)+len(p.Removed)),
		Attachments: p.Attachments,
	}

	for _, decl := range p.Instances {
		t, err := p.Catalog.Resolve(decl.TypeID)
		if err != nil {
			return nil, err
		}

		inst := AddonInstance{
			ReferenceID: NewReferenceID(),
			Reference:   decl.Reference,
			Category:    decl.Category,
			Name:        decl.Name,
			TypeID:      decl.TypeID,
			Version:     decl.Version,
			PlanName:    decl.PlanName,
			Host:        ServiceHostname(p.Project, decl.TypeID, decl.Name),
			Status:      StatusDeclared,
			Legacy:      decl.Legacy,
		}

		if decl.PlanName != "" {
			plan, err := resolvePlan(decl, t, p.Plans)
			if err != nil {
				return nil, err
			}
			inst.Plan = plan
		}

		if a, ok := p.Allocations[decl.StateKey()]; ok {
			inst.Ports = a
			inst.Status = StatusAllocated
			if p.Deployed[decl.Reference] {
				inst.Status = StatusDeployed
			}
		}

		view.Instances = append(view.Instances, inst)
	}

	for _, r := range p.Removed {
		typeID, name := splitStateKey(r.StateKey)
		view.Instances = append(view.Instances, AddonInstance{
			ReferenceID: NewReferenceID(),
			Reference:   r.StateKey,
			Name:        name,
			TypeID:      typeID,
			Ports:       r.Ports,
			Status:      StatusRemoved,
		})
	}

	return view, nil
}

// resolvePlan looks up a plan name: project-level table wins over the
// type's own tiers.
func resolvePlan(decl config.InstanceDecl, t addon.AddonType, projectPlans map[string]addon.Plan) (addon.Plan, error) {
	if plan, ok := projectPlans[decl.PlanName]; ok {
		return plan, nil
	}
	if plan, ok := t.Plan(decl.PlanName); ok {
		return plan, nil
	}
	return addon.Plan{}, config.NewError(decl.Reference,
		fmt.Sprintf("plan %q is not defined", decl.PlanName), config.ErrUnknownPlan)
}

func splitStateKey(key string) (typeID, name string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
