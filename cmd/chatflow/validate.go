package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/template"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate and compile every template in a directory",
	Long:  `Parses each template YAML file, checks its structure, and runs it through the flow compiler. Exits non-zero on the first broken template.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("templates")

		source := template.NewDirSource(dir)
		ids, err := source.List()
		if err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Printf("No template files found in %s\n", dir)
			os.Exit(1)
		}

		ctx := context.Background()
		failed := false
		for _, id := range ids {
			graph, err := source.GetGraph(ctx, id)
			if err != nil {
				fmt.Printf("✗ %s: %v\n", id, err)
				failed = true
				continue
			}
			plan, err := compiler.Compile(graph)
			if err != nil {
				fmt.Printf("✗ %s: %v\n", id, err)
				failed = true
				continue
			}
			fmt.Printf("✓ %s (%d steps, %d branches)\n", id, len(plan.Steps), len(plan.Branches))
		}
		if failed {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
