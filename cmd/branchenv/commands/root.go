// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the branchenv CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "branchenv",
		Short:         "Ephemeral per-branch environments on Kubernetes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Lifecycle commands
	cmd.AddCommand(Provision())
	cmd.AddCommand(Decommission())
	cmd.AddCommand(Status())
	cmd.AddCommand(Sync())
	cmd.AddCommand(Serve())

	// Utility commands
	cmd.AddCommand(Resolve())
	cmd.AddCommand(Render())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}

// addConfigFlag binds the shared --config flag.
func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "Path to configuration file (default: branchenv.yaml in the current or a parent directory)")
}
