package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the ATLAS admin CLI. Subcommands (auth, bootstrap, asset-tags) are attached here.
var rootCmd = &cobra.Command{
	Use:           "atlas",
	Short:         "ATLAS admin CLI",
	Long:          "Administrative utilities for ATLAS (dev tokens, schema bootstrap, asset tag counter).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
