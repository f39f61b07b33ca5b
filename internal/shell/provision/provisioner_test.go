package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/env"
	"github.com/artpar/berth/internal/core/ports"
	"github.com/artpar/berth/internal/core/registry"
	"github.com/artpar/berth/internal/shell/catalog"
	"github.com/artpar/berth/internal/shell/secrets"
	"github.com/artpar/berth/internal/shell/state"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func newTestProvisioner(t *testing.T) *Provisioner {
	t.Helper()

	cat, err := catalog.LoadBuiltin()
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := secrets.Open(filepath.Join(dir, "secrets.db"), "test-master-secret")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &Provisioner{
		Catalog: cat,
		State:   state.NewStore(filepath.Join(dir, "allocations.yml")),
		Secrets: store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func parseDoc(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return &doc
}

const shopConfig = `
project: shop
addons:
  databases:
    primary:
      type: postgres
      version: "15-alpine"
    reporting:
      type: postgres
  caches:
    sessions:
      type: redis
apps:
  web:
    addons:
      - {addon: databases.primary, as: DB}
      - {addon: caches.sessions}
  analytics:
    addons:
      - {addon: databases.primary, as: DB, access: readonly}
`

// =============================================================================
// Up Tests
// =============================================================================

func TestUp_FullPass(t *testing.T) {
	p := newTestProvisioner(t)

	view, err := p.Up(context.Background(), parseDoc(t, shopConfig))
	require.NoError(t, err)

	assert.Equal(t, "shop", view.Project)
	require.Len(t, view.Instances, 3)

	primary, ok := view.Instance("databases.primary")
	require.True(t, ok)
	assert.Equal(t, registry.StatusAllocated, primary.Status)
	assert.Equal(t, 5432, primary.Ports.Primary())

	// Second postgres must not collide with the first.
	reporting, ok := view.Instance("databases.reporting")
	require.True(t, ok)
	assert.Equal(t, 5433, reporting.Ports.Primary())

	sessions, ok := view.Instance("caches.sessions")
	require.True(t, ok)
	assert.Equal(t, 6379, sessions.Ports.Primary())

	require.Len(t, view.Attachments, 3)
	webDB := view.Attachments[0]
	assert.Equal(t, "web", webDB.AppName)
	byKey := map[string]string{}
	for _, v := range webDB.Env {
		byKey[v.Key] = v.Value
	}
	assert.Equal(t, "berth_shop_postgres_primary", byKey["DB_HOST"])
	assert.Equal(t, "5432", byKey["DB_PORT"])
	assert.Equal(t, "primary", byKey["DB_USER"])
	assert.NotEmpty(t, byKey["DB_PASSWORD"])
	assert.NotEmpty(t, byKey["DB_URL"])
}

func TestUp_IsIdempotent(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	first, err := p.Up(ctx, parseDoc(t, shopConfig))
	require.NoError(t, err)
	second, err := p.Up(ctx, parseDoc(t, shopConfig))
	require.NoError(t, err)

	for _, inst := range first.Instances {
		again, ok := second.Instance(inst.Reference)
		require.True(t, ok)
		assert.Equal(t, inst.Ports, again.Ports, "%s moved ports between runs", inst.Reference)
	}

	// Credentials are generated once and returned unchanged.
	firstEnv := first.Attachments[0].Env
	secondEnv := second.Attachments[0].Env
	assert.Equal(t, firstEnv, secondEnv)
}

func TestUp_NewInstanceKeepsExistingPorts(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	first, err := p.Up(ctx, parseDoc(t, `
addons:
  databases:
    primary:
      type: postgres
`))
	require.NoError(t, err)
	primary, _ := first.Instance("databases.primary")
	require.Equal(t, 5432, primary.Ports.Primary())

	second, err := p.Up(ctx, parseDoc(t, `
addons:
  databases:
    primary:
      type: postgres
    reporting:
      type: postgres
`))
	require.NoError(t, err)

	primary, _ = second.Instance("databases.primary")
	assert.Equal(t, 5432, primary.Ports.Primary())
	reporting, _ := second.Instance("databases.reporting")
	assert.Equal(t, 5433, reporting.Ports.Primary())
}

func TestUp_ReadOnlyAttachmentEnv(t *testing.T) {
	p := newTestProvisioner(t)

	view, err := p.Up(context.Background(), parseDoc(t, shopConfig))
	require.NoError(t, err)

	var ro, rw map[string]string
	for _, att := range view.Attachments {
		byKey := map[string]string{}
		for _, v := range att.Env {
			byKey[v.Key] = v.Value
		}
		switch {
		case att.AppName == "analytics":
			ro = byKey
		case att.AppName == "web" && att.Alias == "DB":
			rw = byKey
		}
	}
	require.NotNil(t, ro)
	require.NotNil(t, rw)

	assert.Equal(t, "primary_ro", ro["DB_USER"])
	assert.NotEqual(t, rw["DB_PASSWORD"], ro["DB_PASSWORD"])
	// Shared fields match across access levels.
	assert.Equal(t, rw["DB_DATABASE"], ro["DB_DATABASE"])
	assert.Equal(t, rw["DB_HOST"], ro["DB_HOST"])
}

func TestUp_MultiPortInstance(t *testing.T) {
	p := newTestProvisioner(t)

	view, err := p.Up(context.Background(), parseDoc(t, `
addons:
  queues:
    events:
      type: rabbitmq
`))
	require.NoError(t, err)

	events, ok := view.Instance("queues.events")
	require.True(t, ok)
	assert.Equal(t, 5672, events.Ports.Primary())
	mgmt, ok := events.Ports.Named("management")
	require.True(t, ok)
	assert.Equal(t, 15672, mgmt)
}

func TestUp_LegacyFlatShape(t *testing.T) {
	p := newTestProvisioner(t)

	view, err := p.Up(context.Background(), parseDoc(t, `
addons:
  redis: {}
`))
	require.NoError(t, err)

	inst, ok := view.Instance("cache.redis")
	require.True(t, ok)
	assert.True(t, inst.Legacy)
	assert.Equal(t, 6379, inst.Ports.Primary())
}

// =============================================================================
// Removal and GC Tests
// =============================================================================

func TestUp_RemovedDeclarationKeepsReservation(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Up(ctx, parseDoc(t, `
addons:
  caches:
    sessions:
      type: redis
`))
	require.NoError(t, err)

	// Declaration gone: entry shows as removed, port stays reserved.
	view, err := p.Up(ctx, parseDoc(t, `
addons:
  caches:
    throttling:
      type: redis
`))
	require.NoError(t, err)

	removed, ok := view.Instance("redis.sessions")
	require.True(t, ok)
	assert.Equal(t, registry.StatusRemoved, removed.Status)
	assert.Equal(t, 6379, removed.Ports.Primary())

	// The new instance skips the reserved port.
	throttling, ok := view.Instance("caches.throttling")
	require.True(t, ok)
	assert.Equal(t, 6380, throttling.Ports.Primary())
}

func TestUp_ReappearedDeclarationGetsPriorPort(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Up(ctx, parseDoc(t, "addons:\n  caches:\n    sessions:\n      type: redis\n"))
	require.NoError(t, err)
	_, err = p.Up(ctx, parseDoc(t, "addons: {}\n"))
	require.NoError(t, err)

	view, err := p.Up(ctx, parseDoc(t, "addons:\n  caches:\n    sessions:\n      type: redis\n"))
	require.NoError(t, err)

	sessions, ok := view.Instance("caches.sessions")
	require.True(t, ok)
	assert.Equal(t, 6379, sessions.Ports.Primary())
	assert.Equal(t, registry.StatusAllocated, sessions.Status)
}

func TestCollect_ReclaimsPortsAndCredentials(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Up(ctx, parseDoc(t, "addons:\n  caches:\n    sessions:\n      type: redis\n"))
	require.NoError(t, err)
	_, err = p.Up(ctx, parseDoc(t, "addons: {}\n"))
	require.NoError(t, err)

	collected, err := p.Collect(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"redis.sessions"}, collected)

	// Credentials are gone with the allocation.
	_, err = p.Secrets.Get(ctx, "redis", "sessions")
	assert.ErrorIs(t, err, secrets.ErrNotFound)

	// A fresh declaration now gets the base port again, with new secrets.
	view, err := p.Up(ctx, parseDoc(t, "addons:\n  caches:\n    sessions:\n      type: redis\n"))
	require.NoError(t, err)
	sessions, _ := view.Instance("caches.sessions")
	assert.Equal(t, 6379, sessions.Ports.Primary())
}

func TestCollect_NothingRemoved(t *testing.T) {
	p := newTestProvisioner(t)

	collected, err := p.Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, collected)
}

// =============================================================================
// View Tests
// =============================================================================

func TestView_BeforeAnyAllocation(t *testing.T) {
	p := newTestProvisioner(t)

	view, err := p.View(context.Background(), parseDoc(t, shopConfig), Options{})
	require.NoError(t, err)

	primary, ok := view.Instance("databases.primary")
	require.True(t, ok)
	assert.Equal(t, registry.StatusDeclared, primary.Status)
	assert.Empty(t, primary.Ports.Ports)

	// Attachments are listed without env values.
	require.Len(t, view.Attachments, 3)
	assert.Empty(t, view.Attachments[0].Env)
}

func TestView_GenerateEnvRequiresSyncedSecrets(t *testing.T) {
	p := newTestProvisioner(t)

	_, err := p.View(context.Background(), parseDoc(t, shopConfig), Options{GenerateEnv: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestView_AfterUpShowsEnv(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	_, err := p.Up(ctx, parseDoc(t, shopConfig))
	require.NoError(t, err)

	view, err := p.View(ctx, parseDoc(t, shopConfig), Options{GenerateEnv: true})
	require.NoError(t, err)

	require.Len(t, view.Attachments, 3)
	assert.NotEmpty(t, view.Attachments[0].Env)
}

// =============================================================================
// Error Surface Tests
// =============================================================================

func TestUp_PortExhaustionNamesInstance(t *testing.T) {
	// Fill the whole probe window below redis's base port, then ask for one
	// more instance.
	p := newTestProvisioner(t)
	ctx := context.Background()

	st, err := p.State.Load()
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		st.Allocations[fmt.Sprintf("redis.blocker%04d", i)] = state.Allocation{"": 6379 + i}
	}
	require.NoError(t, p.State.Record(st, "redis.blocker0000", state.Allocation{"": 6379}))

	_, err = p.Up(ctx, parseDoc(t, "addons:\n  caches:\n    overflow:\n      type: redis\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExhausted)

	var allocErr *ports.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "caches.overflow", allocErr.Reference)
}

func TestUp_HostPinnedByCredentialBundle(t *testing.T) {
	p := newTestProvisioner(t)
	ctx := context.Background()

	// Import a bundle pinning HOST to an external managed service.
	err := p.Secrets.Put(ctx, "redis", "sessions", env.Credentials{Fields: map[string]string{
		"HOST":     "redis.external.example.com",
		"PASSWORD": "seeded",
	}})
	require.NoError(t, err)

	view, err := p.Up(ctx, parseDoc(t, `
addons:
  caches:
    sessions:
      type: redis
apps:
  web:
    addons:
      - {addon: caches.sessions, as: CACHE}
`))
	require.NoError(t, err)

	att := view.AttachmentsFor("caches.sessions")
	require.Len(t, att, 1)
	byKey := map[string]string{}
	for _, v := range att[0].Env {
		byKey[v.Key] = v.Value
	}
	assert.Equal(t, "redis.external.example.com", byKey["CACHE_HOST"])
}

func TestUp_ParseErrorSurfacesReference(t *testing.T) {
	p := newTestProvisioner(t)

	_, err := p.Up(context.Background(), parseDoc(t, `
addons:
  databases:
    primary:
      type: postgres
apps:
  web:
    addons:
      - {addon: databases.replica}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databases.replica")
}
