package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/berth/internal/core/registry"
	"github.com/artpar/berth/internal/shell/provision"
)

// =============================================================================
// up
// =============================================================================

func newUpCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Allocate ports and generate environment for all declared addons",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := provision.ReadProjectFile(a.cfg.Project.File)
			if err != nil {
				return err
			}

			view, err := a.prov.Up(cmd.Context(), doc)
			if err != nil {
				return err
			}

			printInstances(view)
			return nil
		},
	}
}

// =============================================================================
// addons:list
// =============================================================================

func newAddonsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "addons:list",
		Short: "List addon instances and their attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := provision.ReadProjectFile(a.cfg.Project.File)
			if err != nil {
				return err
			}

			view, err := a.prov.View(cmd.Context(), doc, provision.Options{})
			if err != nil {
				return err
			}

			printInstances(view)
			return nil
		},
	}
}

// =============================================================================
// addons:info
// =============================================================================

func newAddonsInfoCmd(configPath *string) *cobra.Command {
	var showEnv bool

	cmd := &cobra.Command{
		Use:   "addons:info <reference>",
		Short: "Show one addon instance, its attachments and environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := provision.ReadProjectFile(a.cfg.Project.File)
			if err != nil {
				return err
			}

			view, err := a.prov.View(cmd.Context(), doc, provision.Options{GenerateEnv: showEnv})
			if err != nil {
				return err
			}

			inst, ok := view.Instance(args[0])
			if !ok {
				return fmt.Errorf("no addon instance %q in project %q", args[0], view.Project)
			}

			printInstanceInfo(a, view, inst, showEnv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showEnv, "show-env", false, "include generated environment variable values")
	return cmd
}

// =============================================================================
// addons:gc
// =============================================================================

func newAddonsGCCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "addons:gc",
		Short: "Reclaim port allocations of removed addon instances",
		Long: "Reclaim port allocations (and credentials) of instances whose declaration\n" +
			"was removed from configuration. Never runs implicitly: a removed instance's\n" +
			"port stays reserved until this command is invoked, so a reappearing instance\n" +
			"receives its prior port.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			collected, err := a.prov.Collect(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			if len(collected) == 0 {
				fmt.Println("nothing to reclaim")
				return nil
			}
			for _, key := range collected {
				fmt.Printf("reclaimed %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only reclaim entries removed at least this long ago")
	return cmd
}

// =============================================================================
// Output Helpers
// =============================================================================

func printInstances(view *registry.View) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tTYPE\tVERSION\tPLAN\tPORTS\tSTATUS\tATTACHMENTS")
	for _, inst := range view.Instances {
		plan := inst.PlanName
		if plan == "" {
			plan = "-"
		}
		ports := inst.Ports.String()
		if ports == "" {
			ports = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			inst.Reference, inst.TypeID, inst.Version, plan, ports,
			inst.Status, len(view.AttachmentsFor(inst.Reference)))
	}
	w.Flush()
}

func printInstanceInfo(a *app, view *registry.View, inst *registry.AddonInstance, showEnv bool) {
	fmt.Printf("Reference:  %s\n", inst.Reference)
	fmt.Printf("Type:       %s (%s)\n", inst.TypeID, inst.Category)
	fmt.Printf("Version:    %s\n", inst.Version)
	if inst.PlanName != "" {
		fmt.Printf("Plan:       %s (%d MB, %.2f cores)\n", inst.PlanName, inst.Plan.MemoryMB, inst.Plan.CPUCores)
	}
	fmt.Printf("Host:       %s\n", inst.Host)
	if ports := inst.Ports.String(); ports != "" {
		fmt.Printf("Ports:      %s\n", ports)
	}
	fmt.Printf("Status:     %s\n", inst.Status)

	attachments := view.AttachmentsFor(inst.Reference)
	if len(attachments) == 0 {
		fmt.Println("Attachments: none")
		return
	}
	fmt.Println("Attachments:")
	for _, att := range attachments {
		fmt.Printf("  %s as %s (%s)\n", att.AppName, att.Alias, att.Access)
		if showEnv {
			for _, v := range att.Env {
				fmt.Printf("    %s=%s\n", v.Key, v.Value)
			}
			continue
		}
		// Without --show-env, list the variable names from the template.
		if t, err := a.prov.Catalog.Resolve(inst.TypeID); err == nil {
			for _, entry := range t.Env {
				fmt.Printf("    %s_%s\n", att.Alias, entry.Suffix)
			}
		}
	}
}
