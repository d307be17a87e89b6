package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/branchenv/cmd/branchenv/handlers"
)

// Serve returns the serve command.
func Serve() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server that reacts to branch events",
		Long: `Serve listens for GitHub create, delete and push webhooks and runs the
matching workflows in the background.

Endpoints:
  POST /webhook   branch events (signed with BRANCHENV_WEBHOOK_SECRET)
  GET  /healthz   liveness
  GET  /metrics   Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), configPath, addr)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: webhook.addr from the config)")

	return cmd
}
