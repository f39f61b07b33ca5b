package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/core/config"
	"github.com/artpar/berth/internal/core/ports"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func testCatalog(t *testing.T) *addon.Catalog {
	t.Helper()

	cat, err := addon.NewCatalog([]addon.AddonType{
		{
			TypeID:   "postgres",
			Category: addon.CategoryDatabase,
			Versions: []string{"16-alpine"},
			BasePort: 5432,
			PortStep: 1,
			Env:      []addon.EnvEntry{{Suffix: "HOST", From: addon.FromHost}},
			Plans:    map[string]addon.Plan{"small": {MemoryMB: 256, CPUCores: 0.25}},
		},
	})
	require.NoError(t, err)
	return cat
}

func primaryDecl() config.InstanceDecl {
	return config.InstanceDecl{
		Reference: "databases.primary",
		Category:  "databases",
		Name:      "primary",
		TypeID:    "postgres",
		Version:   "16-alpine",
	}
}

// =============================================================================
// Assembly Tests
// =============================================================================

func TestAssemble_DeclaredInstance(t *testing.T) {
	view, err := Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{primaryDecl()},
	})
	require.NoError(t, err)

	require.Len(t, view.Instances, 1)
	inst := view.Instances[0]
	assert.Equal(t, "databases.primary", inst.Reference)
	assert.Equal(t, StatusDeclared, inst.Status)
	assert.Equal(t, "berth_shop_postgres_primary", inst.Host)
	assert.Regexp(t, `^addon_[0-9a-f-]{8}$`, inst.ReferenceID)
}

func TestAssemble_AllocatedAndDeployedStatus(t *testing.T) {
	assignment := ports.Assignment{Ports: []ports.PortValue{{Port: 5432}}}

	view, err := Assemble(AssembleParams{
		Project:     "shop",
		Catalog:     testCatalog(t),
		Instances:   []config.InstanceDecl{primaryDecl()},
		Allocations: map[string]ports.Assignment{"postgres.primary": assignment},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAllocated, view.Instances[0].Status)
	assert.Equal(t, 5432, view.Instances[0].Ports.Primary())

	view, err = Assemble(AssembleParams{
		Project:     "shop",
		Catalog:     testCatalog(t),
		Instances:   []config.InstanceDecl{primaryDecl()},
		Allocations: map[string]ports.Assignment{"postgres.primary": assignment},
		Deployed:    map[string]bool{"databases.primary": true},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, view.Instances[0].Status)
}

func TestAssemble_RemovedEntriesAppended(t *testing.T) {
	view, err := Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{primaryDecl()},
		Removed: []RemovedInstance{
			{StateKey: "postgres.old", Ports: ports.Assignment{Ports: []ports.PortValue{{Port: 5433}}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, view.Instances, 2)
	removed := view.Instances[1]
	assert.Equal(t, StatusRemoved, removed.Status)
	assert.Equal(t, "postgres", removed.TypeID)
	assert.Equal(t, "old", removed.Name)
	assert.Equal(t, 5433, removed.Ports.Primary())
}

func TestAssemble_PlanResolution(t *testing.T) {
	decl := primaryDecl()
	decl.PlanName = "small"

	// Type plan applies when the project table has no entry.
	view, err := Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{decl},
	})
	require.NoError(t, err)
	assert.Equal(t, addon.Plan{MemoryMB: 256, CPUCores: 0.25}, view.Instances[0].Plan)

	// Project plan table wins over the type's tier of the same name.
	view, err = Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{decl},
		Plans:     map[string]addon.Plan{"small": {MemoryMB: 512, CPUCores: 0.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, addon.Plan{MemoryMB: 512, CPUCores: 0.5}, view.Instances[0].Plan)
}

func TestAssemble_UnknownPlan(t *testing.T) {
	decl := primaryDecl()
	decl.PlanName = "galactic"

	_, err := Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{decl},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrUnknownPlan)
}

func TestAssemble_UnknownType(t *testing.T) {
	decl := primaryDecl()
	decl.TypeID = "mongodb"

	_, err := Assemble(AssembleParams{
		Project:   "shop",
		Catalog:   testCatalog(t),
		Instances: []config.InstanceDecl{decl},
	})
	assert.ErrorIs(t, err, addon.ErrUnknownType)
}

func TestView_Lookups(t *testing.T) {
	view := &View{
		Instances: []AddonInstance{{Reference: "databases.primary"}},
		Attachments: []AddonAttachment{
			{AppName: "web", AddonReference: "databases.primary", Alias: "DB"},
			{AppName: "worker", AddonReference: "databases.primary", Alias: "DB"},
			{AppName: "web", AddonReference: "caches.sessions", Alias: "CACHE"},
		},
	}

	inst, ok := view.Instance("databases.primary")
	require.True(t, ok)
	assert.Equal(t, "databases.primary", inst.Reference)

	_, ok = view.Instance("databases.replica")
	assert.False(t, ok)

	assert.Len(t, view.AttachmentsFor("databases.primary"), 2)
	assert.Empty(t, view.AttachmentsFor("queues.events"))
}

// =============================================================================
// Naming Tests
// =============================================================================

func TestServiceHostname(t *testing.T) {
	assert.Equal(t, "berth_shop_postgres_primary", ServiceHostname("shop", "postgres", "primary"))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "berth_shop_redis_sessions_data", VolumeName("shop", "redis", "sessions"))
}
