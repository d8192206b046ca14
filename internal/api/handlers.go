package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartshopai/provisioner/internal/manifest"
	"smartshopai/provisioner/internal/orchestrator"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	RunBootstrap(ctx context.Context) (*orchestrator.BootstrapResult, error)
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	IsReady() bool
	IsBootstrapInProgress() bool
	LastResult() *orchestrator.BootstrapResult
	Plan() *manifest.Plan
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	orchestrator orchestratorService
	runTimeout   time.Duration
}

// Bootstrap handles POST /api/v1/bootstrap.
//
//	@Summary	Start a bootstrap run
//	@Tags		bootstrap
//	@Produce	json
//	@Success	202	{object}	map[string]string
//	@Failure	409	{object}	map[string]string
//	@Router		/api/v1/bootstrap [post]
func (h *Handler) Bootstrap(c *gin.Context) {
	if h.orchestrator.IsBootstrapInProgress() {
		c.JSON(http.StatusConflict, gin.H{"status": orchestrator.StatusInProgress})
		return
	}

	go func() {
		ctx := context.Background() //nolint:contextcheck
		if h.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
			defer cancel()
		}
		if _, err := h.orchestrator.RunBootstrap(ctx); err != nil {
			if errors.Is(err, orchestrator.ErrBootstrapInProgress) {
				slog.Info("bootstrap request dropped, run already active")
				return
			}
			slog.Error("bootstrap did not start", "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// LastBootstrap handles GET /api/v1/bootstrap/last.
//
//	@Summary	Result of the most recent finished run
//	@Tags		bootstrap
//	@Produce	json
//	@Success	200	{object}	orchestrator.BootstrapResult
//	@Failure	404	{object}	map[string]string
//	@Router		/api/v1/bootstrap/last [get]
func (h *Handler) LastBootstrap(c *gin.Context) {
	result := h.orchestrator.LastResult()
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "none"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Manifest handles GET /api/v1/manifest and returns the resolved plan. The
// principal secret is never rendered.
//
//	@Summary	Resolved provisioning plan
//	@Tags		manifest
//	@Produce	json
//	@Success	200	{object}	manifest.Plan
//	@Router		/api/v1/manifest [get]
func (h *Handler) Manifest(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Plan())
}

// Health handles GET /health, the liveness probe. It always returns 200.
//
//	@Summary	Liveness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes every configured dependency and returns 200 only when all are OK.
//
//	@Summary	Dependency health
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	503	{object}	map[string]any
//	@Router		/health/deep [get]
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after a successful bootstrap; 503 otherwise.
//
//	@Summary	Readiness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]bool
//	@Failure	503	{object}	map[string]bool
//	@Router		/ready [get]
func (h *Handler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}
