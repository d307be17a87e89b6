package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Sync returns the sync command.
func Sync() *cobra.Command {
	var (
		configPath   string
		branches     []string
		branchesFile string
		parallel     int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Converge environments to a list of live branches",
		Long: `Sync provisions an environment for every given branch and decommissions
managed environments whose branch is not in the list.

Example:
  git branch -r --format='%(refname:lstrip=3)' > branches.txt
  branchenv sync --branches-file branches.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Sync(cmd.Context(), configPath, branches, branchesFile, parallel)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringSliceVarP(&branches, "branch", "b", nil, "Live branch (repeatable)")
	cmd.Flags().StringVar(&branchesFile, "branches-file", "", "File with one live branch per line")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", handlers.DefaultSyncParallelism, "Maximum number of concurrent workflows")

	return cmd
}
