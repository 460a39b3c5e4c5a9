package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subarg/internal/tools"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the external tools SubARG can find",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tools.NewRegistry(cfg.Scan.ToolSearchPaths)
			installed := registry.Detect()

			fmt.Printf("\n%s\n", bold("=== Installed Tools ==="))
			for _, name := range tools.KnownTools {
				if !installed[name] {
					fmt.Printf("  %s %-12s %s\n", red("[-]"), name, "not installed")
					continue
				}
				path, _ := registry.Path(name)
				fmt.Printf("  %s %-12s %s\n", green("[+]"), name, path)
			}

			enumerators := registry.EnumerationTools()
			fmt.Printf("\nEnumeration tools available: %d (crt.sh always runs)\n", len(enumerators))
			return nil
		},
	}
}
