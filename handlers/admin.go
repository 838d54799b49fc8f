package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slothflix/lldap-bridge/internal/reconcile"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

var startTime = time.Now()

// TokenChecker reports whether a valid directory token can be obtained.
// Satisfied by *auth.Manager.
type TokenChecker interface {
	Token(ctx context.Context) (string, error)
}

// AdminHandler exposes the ops surface: liveness, readiness and a manual
// sync trigger mirroring the /sync_subscribers Discord command.
type AdminHandler struct {
	reconciler *reconcile.Reconciler
	tokens     TokenChecker
	botReady   func() bool
}

func NewAdminHandler(reconciler *reconcile.Reconciler, tokens TokenChecker, botReady func() bool) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, tokens: tokens, botReady: botReady}
}

// Register routes. The caller wires auth and rate-limit middlewares onto the
// admin group.
func (h *AdminHandler) Register(rg *gin.RouterGroup, adminMiddlewares ...gin.HandlerFunc) {
	rg.GET("/health", h.Health)
	rg.GET("/ready", h.Ready)

	admin := rg.Group("/admin")
	admin.Use(adminMiddlewares...)
	admin.POST("/sync", h.TriggerSync)
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "healthy")
}

// Ready returns 200 only when a directory token is obtainable and the
// Discord session is connected.
func (h *AdminHandler) Ready(c *gin.Context) {
	deps := map[string]bool{}
	ready := true

	_, err := h.tokens.Token(c.Request.Context())
	deps["directory"] = err == nil
	if err != nil {
		ready = false
	}

	deps["discord"] = h.botReady == nil || h.botReady()
	if !deps["discord"] {
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
}

// TriggerSync runs one reconciliation pass and returns the per-role tallies.
// An overlapping scheduled run makes this block until the reconciler is free.
func (h *AdminHandler) TriggerSync(c *gin.Context) {
	tallies, err := h.reconciler.Sync(c.Request.Context())
	if err != nil {
		logger.Errorf("manual sync via admin api failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "tallies": tallies})
		return
	}
	metrics.SyncRuns.WithLabelValues("manual").Inc()
	c.JSON(http.StatusOK, gin.H{"tallies": tallies})
}
