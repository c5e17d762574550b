package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatflow",
	Short: "chatflow runs graph-based conversation flows",
	Long:  `chatflow executes conversation templates (YAML flow graphs) over stateful sessions, with lead capture, funnel stage hooks, and automatic error recovery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("templates", ".", "Directory containing template YAML files")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func logLevel(cmd *cobra.Command) slog.Level {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
