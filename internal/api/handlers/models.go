package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ModelStatus returns the registry snapshot as seen by dispatch.
func (h *Handler) ModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": h.registry.Snapshot()})
}

// ModelReport returns the last human-readable probe report.
func (h *Handler) ModelReport(c *gin.Context) {
	report := h.registry.Report()
	if report == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report available yet"})
		return
	}
	c.String(http.StatusOK, report)
}

// TriggerProbe runs an on-demand probe round and returns the fresh report.
func (h *Handler) TriggerProbe(c *gin.Context) {
	statuses, err := h.prober.ProbeAll(c.Request.Context())
	if err != nil {
		h.logger.Error("On-demand probe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "probe round failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"statuses": statuses,
		"report":   h.registry.Report(),
	})
}

// Catalog lists the model catalog with per-tier access.
func (h *Handler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories":   h.cfg.Models.Categories,
		"tier_access":  h.cfg.Models.TierAccess,
		"image_models": h.cfg.Models.ImageModels,
		"participants": h.cfg.Ensemble.Participants,
		"arbiter":      h.cfg.Ensemble.Arbiter,
	})
}
