package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/quota"
)

func (h *Handler) userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

// UserLimits resolves the user's daily budgets.
func (h *Handler) UserLimits(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	limits, err := h.ledger.LimitsFor(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"daily":     limits.Daily,
		"ensemble":  limits.Ensemble,
		"unlimited": limits.Daily == quota.Unlimited,
	})
}

// UserUsage reports today's consumed requests per mode.
func (h *Handler) UserUsage(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	normal, err := h.ledger.CountToday(ctx, userID, db.ModeNormal)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ensemble, err := h.ledger.CountToday(ctx, userID, db.ModeEnsemble)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"day":      h.ledger.Today(),
		"normal":   normal,
		"ensemble": ensemble,
	})
}
