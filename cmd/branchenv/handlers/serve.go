package handlers

import (
	"context"
	"log"

	"github.com/imamik/branchenv/internal/config"
	"github.com/imamik/branchenv/internal/lifecycle"
	"github.com/imamik/branchenv/internal/webhook"
)

// runServer serves the webhook until ctx is cancelled (for testing injection).
var runServer = func(ctx context.Context, srv *webhook.Server, addr string) error {
	return srv.Run(ctx, addr)
}

// Serve runs the webhook trigger server. Branch events received on
// /webhook start workflows in the background; metrics are exposed on
// /metrics.
func Serve(ctx context.Context, configPath, addr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Webhook.Addr
	}

	orch, cleanup, err := newOrchestrator(ctx, cfg, lifecycle.WithMetrics(true))
	if err != nil {
		return err
	}
	defer cleanup()

	secret := config.LoadSecrets().WebhookSecret
	if secret == "" {
		log.Printf("Warning: BRANCHENV_WEBHOOK_SECRET is not set, webhook signatures are not verified")
	}

	log.Printf("Serving webhooks on %s", addr)
	err = runServer(ctx, webhook.NewServer(ctx, orch, secret), addr)

	log.Printf("Waiting for active workflows to stop")
	orch.Wait()
	return err
}
