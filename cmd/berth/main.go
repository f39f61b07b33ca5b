// Package main provides the berth binary: it provisions named addon
// service instances for a deployment project, assigns them stable
// non-conflicting ports, and generates the environment variables apps use
// to reach their attached addons.
//
// Usage:
//
//	berth up                      - parse, allocate ports, generate env
//	berth addons:list             - list addon instances and attachments
//	berth addons:info <reference> - show one instance in detail
//	berth addons:gc               - reclaim allocations of removed instances
//	berth version                 - show version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/shell/catalog"
	"github.com/artpar/berth/internal/shell/provision"
	"github.com/artpar/berth/internal/shell/secrets"
	"github.com/artpar/berth/internal/shell/state"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "berth: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// Root Command
// =============================================================================

// app holds the wired shell components for one invocation.
type app struct {
	cfg    *Config
	logger *slog.Logger
	prov   *provision.Provisioner
	store  *secrets.Store
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "berth",
		Short:         "Provision addon service instances for deployment projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(
		newUpCmd(&configPath),
		newAddonsListCmd(&configPath),
		newAddonsInfoCmd(&configPath),
		newAddonsGCCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// newApp loads configuration and wires the catalog, state and secrets
// stores into a provisioner.
func newApp(configPath string) (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	logger := SetupLogger(cfg)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	store, err := secrets.Open(cfg.Secrets.DSN, cfg.Secrets.MasterSecret)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		prov: &provision.Provisioner{
			Catalog: cat,
			State:   state.NewStore(cfg.State.File),
			Secrets: store,
			Logger:  logger,
		},
	}, nil
}

func loadCatalog(cfg *Config) (*addon.Catalog, error) {
	if cfg.Catalog.Dir != "" {
		return catalog.Load(cfg.Catalog.Dir)
	}
	return catalog.LoadBuiltin()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("berth %s (built %s)\n", Version, BuildTime)
		},
	}
}
