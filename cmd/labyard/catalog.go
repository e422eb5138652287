package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RohitKumar027/ReliabilityPortal/internal/catalog"
	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
)

func newCatalogCmd() *cobra.Command {
	var (
		configPath string
		category   string
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the test catalog",
		Long:  "Prints every category of the test catalog with cycle time, man-hours, machines and technicians per test. Falls back to the built-in catalog when no config file exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(cmd, configPath, category)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	cmd.Flags().StringVar(&category, "category", "", "only show this product category")
	return cmd
}

func runCatalog(cmd *cobra.Command, configPath, category string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		if cmd.Flags().Changed("config") {
			return err
		}
		if cfg, err = config.Default(); err != nil {
			return err
		}
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatCatalog(cat, category))
	return nil
}

func formatCatalog(cat *catalog.Catalog, only string) string {
	var b strings.Builder
	for _, name := range cat.Categories() {
		if only != "" && !strings.EqualFold(only, name) {
			continue
		}
		fmt.Fprintf(&b, "%s\n", name)
		for _, def := range cat.Tests(name) {
			machines := strings.Join(def.Machines, ", ")
			if machines == "" {
				machines = "bench"
			}
			fmt.Fprintf(&b, "  %-22s %5.0fh cycle %4.1fh labor  %d tech  %s\n",
				def.Name, def.CycleTime, def.ManHours, def.Technicians, machines)
		}
	}
	return b.String()
}
