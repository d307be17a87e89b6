// Package webhook turns source-control webhooks into branch events.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/naming"
)

// maxBodyBytes caps webhook payloads.
const maxBodyBytes = 1 << 20

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Dispatcher starts the workflow for a branch event without waiting for it.
// *lifecycle.Orchestrator implements it.
type Dispatcher interface {
	OnBranchEvent(ctx context.Context, ref environment.BranchRef) error
}

// Server receives webhooks and exposes health and metrics endpoints.
type Server struct {
	router     *gin.Engine
	dispatcher Dispatcher
	secret     []byte
	// runCtx outlives requests; workflows started by a delivery run on it.
	runCtx context.Context
}

// NewServer creates a server dispatching to d. Workflows run on ctx. An
// empty secret disables signature checks.
func NewServer(ctx context.Context, d Dispatcher, secret string) *Server {
	s := &Server{
		router:     gin.New(),
		dispatcher: d,
		secret:     []byte(secret),
		runCtx:     ctx,
	}
	s.router.Use(gin.Recovery(), s.logRequests())
	s.mountHandlers()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) mountHandlers() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	s.router.POST("/webhook", s.handleWebhook)
}

func (s *Server) handleWebhook(c *gin.Context) {
	logger := log.FromContext(s.runCtx).WithValues("delivery", c.GetHeader(headerDelivery))

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if len(s.secret) > 0 {
		if err := verifySignature(s.secret, body, c.GetHeader(headerSignature)); err != nil {
			logger.Info("Rejected webhook", "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	kind := c.GetHeader(headerEvent)
	if kind == "ping" {
		c.JSON(http.StatusOK, gin.H{"status": "pong"})
		return
	}

	ref, err := parseEvent(kind, body)
	if errors.Is(err, errIgnored) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.dispatcher.OnBranchEvent(s.runCtx, ref); err != nil {
		var invalid *naming.InvalidNameError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		logger.Error(err, "Failed to dispatch branch event", "branch", ref.Name, "event", ref.Event)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}

	logger.Info("Dispatched branch event", "branch", ref.Name, "event", ref.Event)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "branch": ref.Name, "event": ref.Event})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.FromContext(s.runCtx).V(1).Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
