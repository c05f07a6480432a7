package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/health"
	"github.com/gevsen/Mini-Arima/internal/orchestrator"
	"github.com/gevsen/Mini-Arima/internal/profile"
	"github.com/gevsen/Mini-Arima/internal/provider"
	"github.com/gevsen/Mini-Arima/internal/quota"
	"github.com/gevsen/Mini-Arima/internal/stats"
)

type Handler struct {
	orch     *orchestrator.Orchestrator
	prober   *health.Prober
	registry *health.Registry
	ledger   *quota.Ledger
	profiles *profile.Service
	stats    *stats.Service
	cfg      *config.Config
	logger   *zap.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, prober *health.Prober, registry *health.Registry, ledger *quota.Ledger, profiles *profile.Service, statsSvc *stats.Service, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		orch:     orch,
		prober:   prober,
		registry: registry,
		ledger:   ledger,
		profiles: profiles,
		stats:    statsSvc,
		cfg:      cfg,
		logger:   logger,
	}
}

// respondError maps the core error taxonomy onto HTTP. QuotaExceeded and
// Unavailable are user-recoverable and surfaced verbatim; backend errors
// become a generic degraded-service message naming only the model, never
// raw provider payloads.
func (h *Handler) respondError(c *gin.Context, err error) {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       exceeded.Error(),
			"offer_bonus": exceeded.OfferBonus,
		})
		return
	}

	var unavailable *orchestrator.UnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "requested model(s) are temporarily unavailable",
			"models": unavailable.Models,
		})
		return
	}

	if errors.Is(err, orchestrator.ErrBlocked) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access to models is blocked"})
		return
	}

	if errors.Is(err, orchestrator.ErrEnsembleAllFailed) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "all participant models failed, try again later"})
		return
	}

	var arbiter *orchestrator.ArbiterError
	if errors.As(err, &arbiter) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "the arbiter model is temporarily unavailable, try again later",
			"model": arbiter.Model,
		})
		return
	}

	if pe, ok := provider.AsError(err); ok {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "the model is temporarily unavailable (degraded service)",
			"model": pe.Model,
		})
		return
	}

	h.logger.Error("Unhandled request error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
