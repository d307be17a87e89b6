package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Status returns the status command.
func Status() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status <branch>",
		Short: "Show the state of a branch's environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Status(cmd.Context(), configPath, args[0], jsonOutput)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
