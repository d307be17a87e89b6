package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Resolve returns the resolve command.
func Resolve() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resolve <branch>",
		Short: "Print the environment identifier of a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return handlers.Resolve(configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// Render returns the render command.
func Render() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "render <branch>",
		Short: "Print the resources of a branch's environment without applying them",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return handlers.Render(configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
