package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hireledger/hireledger/internal/auth"
	"github.com/hireledger/hireledger/internal/ledger"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// capabilitySource is satisfied by ledger.Client implementations.
type capabilitySource interface {
	Capabilities() ledger.Capabilities
}

// SystemHandler serves health, readiness, and token exchange.
type SystemHandler struct {
	db     pinger
	chain  capabilitySource
	apiKey string
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewSystemHandler creates a SystemHandler. chain may be nil when the
// service runs with ledger synchronization disabled.
func NewSystemHandler(db pinger, chain capabilitySource, apiKey string, tokens *auth.TokenIssuer, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{db: db, chain: chain, apiKey: apiKey, tokens: tokens, logger: logger}
}

// Register mounts the system routes on the router root.
func (h *SystemHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", MetricsHandler())
	r.POST("/v1/token", h.ExchangeToken)
}

// Healthz handles GET /healthz. The database is required; the ledger is
// reported but never fails the check, since sync degrades gracefully.
func (h *SystemHandler) Healthz(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.Error("database ping", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}

	resp := gin.H{"status": "ok", "database": "ok"}
	if h.chain != nil {
		resp["ledger"] = h.chain.Capabilities()
	} else {
		resp["ledger"] = "disabled"
	}
	c.JSON(http.StatusOK, resp)
}

type tokenRequest struct {
	Caller string `json:"caller" binding:"required"`
}

// ExchangeToken handles POST /v1/token. The static API key in X-Api-Key is
// exchanged for a short-lived session token.
func (h *SystemHandler) ExchangeToken(c *gin.Context) {
	if !auth.KeyMatches(h.apiKey, c.GetHeader("X-Api-Key")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.tokens.Issue(req.Caller)
	if err != nil {
		h.logger.Error("issue service token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
