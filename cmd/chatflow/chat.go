package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/presentation/tui"
	"github.com/aretw0/chatflow/internal/template"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a flow interactively",
	Long:  `Runs the engine against stdin/stdout so authored templates can be exercised without a transport.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("templates")
		userID, _ := cmd.Flags().GetString("user")
		tenantID, _ := cmd.Flags().GetString("tenant")
		headless, _ := cmd.Flags().GetBool("headless")

		interactive := !headless && term.IsTerminal(int(os.Stdin.Fd()))

		source := template.NewDirSource(dir)
		templates, err := source.List()
		if err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}
		if len(templates) == 0 {
			fmt.Printf("No template files found in %s\n", dir)
			os.Exit(1)
		}

		opts := []chatflow.Option{}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			opts = append(opts, chatflow.WithLogger(logging.NewCLI(logLevel(cmd))))
		}
		engine, err := chatflow.New(source, templates, opts...)
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}

		runner := &chatflow.Runner{
			Input:    os.Stdin,
			Output:   os.Stdout,
			UserID:   userID,
			TenantID: tenantID,
			Headless: !interactive,
		}
		if interactive {
			tui.PrintBanner(chatflow.Version)
			runner.Renderer = tui.NewRenderer()
		}

		if err := runner.Run(context.Background(), engine); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("user", "local-user", "User id for the session")
	chatCmd.Flags().String("tenant", "local", "Tenant id for the session")
	chatCmd.Flags().Bool("headless", false, "Run in headless mode (no prompts, strict IO)")
}
