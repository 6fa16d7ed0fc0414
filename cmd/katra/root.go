package main

import (
	"github.com/spf13/cobra"
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "katra",
	Short: "Persistent memory substrate for Companion Intelligence agents",
	Long: `katra constructs and runs the memory engine's tiers, encoder,
consolidation pass, and thin HTTP front door from environment
configuration.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log_level", "", "override LOG_LEVEL for this invocation")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
