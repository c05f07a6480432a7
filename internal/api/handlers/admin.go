package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type setTierRequest struct {
	Tier int `json:"tier" binding:"min=0,max=3"`
	Days int `json:"days"`
}

func (h *Handler) SetTier(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}

	if err := h.profiles.SetTier(c.Request.Context(), userID, req.Tier, req.Days); err != nil {
		h.logger.Error("Failed to set tier", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": req.Tier, "days": req.Days})
}

type flagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func (h *Handler) SetBlocked(c *gin.Context) {
	h.setFlag(c, h.profiles.SetBlocked)
}

func (h *Handler) SetVerified(c *gin.Context) {
	h.setFlag(c, h.profiles.SetVerified)
}

func (h *Handler) setFlag(c *gin.Context, set func(ctx context.Context, userID int64, v bool) error) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := set(c.Request.Context(), userID, *req.Value); err != nil {
		h.logger.Error("Failed to update user flag", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "value": *req.Value})
}

func (h *Handler) GrantBonus(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var err error
	if c.Query("revoke") == "true" {
		err = h.profiles.RevokeBonus(c.Request.Context(), userID)
	} else {
		err = h.profiles.GrantBonus(c.Request.Context(), userID)
	}
	if err != nil {
		h.logger.Error("Failed to update bonus", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update bonus"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

type instructionRequest struct {
	Instruction *string `json:"instruction"`
}

func (h *Handler) SetInstruction(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var req instructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.profiles.SetInstruction(c.Request.Context(), userID, req.Instruction); err != nil {
		h.logger.Error("Failed to set instruction", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update instruction"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

type temperatureRequest struct {
	Temperature *float64 `json:"temperature"`
}

func (h *Handler) SetTemperature(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var req temperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be between 0 and 2"})
		return
	}

	if err := h.profiles.SetTemperature(c.Request.Context(), userID, req.Temperature); err != nil {
		h.logger.Error("Failed to set temperature", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update temperature"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

func (h *Handler) Stats(c *gin.Context) {
	overview, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handler) ListUsers(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	users, err := h.stats.Users(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "page": page})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
