package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Decommission returns the decommission command.
func Decommission() *cobra.Command {
	var (
		configPath string
		yes        bool
		noTUI      bool
	)

	cmd := &cobra.Command{
		Use:   "decommission <branch>",
		Short: "Delete the environment of a branch",
		Long: `Decommission deletes the environment of a branch and waits until it is gone.

The external address is released first, then the namespace is deleted. When
deletion stalls past the grace window, blocking finalizers are cleared once
and the deletion is retried.

Example:
  branchenv decommission feature/login --yes

WARNING: All data of the environment is lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Decommission(cmd.Context(), configPath, args[0], yes, noTUI)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the interactive progress view")

	return cmd
}
