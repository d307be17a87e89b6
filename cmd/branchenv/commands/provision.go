package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Provision returns the provision command.
func Provision() *cobra.Command {
	var (
		configPath string
		updated    bool
		noTUI      bool
	)

	cmd := &cobra.Command{
		Use:   "provision <branch>",
		Short: "Create or update the environment of a branch",
		Long: `Provision creates the environment of a branch and waits until it is ready.

The workflow renders the base template for the branch, applies it to the
cluster, waits for the database, requests an external address and runs the
configured schema changesets in order. An environment that is already Ready
is left alone unless --updated is given.

Example:
  branchenv provision feature/login
  branchenv provision feature/login --updated --no-tui`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Provision(cmd.Context(), configPath, args[0], updated, noTUI)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&updated, "updated", false, "Treat the branch as updated and re-apply a Ready environment")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the interactive progress view")

	return cmd
}
