package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jamfwatch/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// NewRootCmd creates the top-level `jamfwatch` command.
func NewRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "jamfwatch",
		Short: "jamfwatch — configuration change monitor for Jamf Pro",
		Long: `jamfwatch collects the configuration objects of a Jamf Pro server
(scripts, categories, computer groups, configuration profiles, extension
attributes, directory bindings, advanced searches), compares them against
a git-backed snapshot tree, commits every change and reports what
happened.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the settings file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log verbosity (debug, info, warn, error)")

	root.AddCommand(newRunCmd(&configPath, &logLevel))
	root.AddCommand(newStatusCmd(&configPath, &logLevel))
	root.AddCommand(newModulesCmd())
	root.AddCommand(newRepairCmd(&configPath, &logLevel))

	return root
}

// Execute runs the root command.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
