package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/provider"
)

type chatRequest struct {
	UserID   int64              `json:"user_id" binding:"required"`
	Username string             `json:"username"`
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages" binding:"required"`
}

type ensembleRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Username string `json:"username"`
	Prompt   string `json:"prompt" binding:"required"`
}

type imageRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Username string `json:"username"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt" binding:"required"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user := h.ensureUser(ctx, req.UserID, req.Username)

	model := req.Model
	if model == "" {
		if user != nil && user.LastUsedModel != nil {
			model = *user.LastUsedModel
		} else {
			model = h.cfg.Models.DefaultTextModel
		}
	}

	if !h.textModelAccessible(ctx, req.UserID, model) {
		c.JSON(http.StatusForbidden, gin.H{"error": "model is not available on your subscription tier", "model": model})
		return
	}

	reply, err := h.orch.Ask(ctx, req.UserID, model, req.Messages, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":        reply.Text,
		"model":       reply.Model,
		"temperature": reply.Temperature,
		"duration_ms": reply.Duration.Milliseconds(),
	})
}

func (h *Handler) Ensemble(c *gin.Context) {
	var req ensembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	h.ensureUser(ctx, req.UserID, req.Username)

	result, err := h.orch.RunEnsemble(ctx, req.UserID, req.Prompt, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// The orchestrator leaves ensemble usage recording to its caller.
	if err := h.ledger.RecordUsage(ctx, req.UserID, result.Arbiter, db.ModeEnsemble); err != nil {
		h.logger.Error("Failed to record ensemble usage",
			zap.Error(err),
			zap.Int64("user_id", req.UserID),
		)
	}

	participants := make([]gin.H, 0, len(result.Participants))
	for _, p := range result.Participants {
		participants = append(participants, gin.H{
			"model":  p.Model,
			"failed": p.Failed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"text":         result.Text,
		"arbiter":      result.Arbiter,
		"participants": participants,
		"duration_ms":  result.Duration.Milliseconds(),
	})
}

func (h *Handler) GenerateImage(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user := h.ensureUser(ctx, req.UserID, req.Username)

	model := req.Model
	if model == "" {
		if user != nil && user.LastUsedImageModel != nil {
			model = *user.LastUsedImageModel
		} else {
			model = h.cfg.Models.DefaultImageModel
		}
	}

	if !contains(h.cfg.Models.ImageModels, model) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown image model", "model": model})
		return
	}

	reply, err := h.orch.GenerateImage(ctx, req.UserID, model, req.Prompt, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":         reply.URL,
		"model":       reply.Model,
		"duration_ms": reply.Duration.Milliseconds(),
	})
}

// ensureUser registers a first-contact user so the request ledger has a
// row to reference. Known users are served from the profile cache.
func (h *Handler) ensureUser(ctx context.Context, userID int64, username string) *db.User {
	user, err := h.profiles.Cache().Get(ctx, userID)
	if err == nil {
		return user
	}
	if errors.Is(err, db.ErrUserNotFound) {
		if rerr := h.profiles.Register(ctx, userID, username); rerr != nil {
			h.logger.Error("Failed to register user", zap.Error(rerr), zap.Int64("user_id", userID))
		}
		return nil
	}
	h.logger.Error("Failed to load profile", zap.Error(err), zap.Int64("user_id", userID))
	return nil
}

func (h *Handler) textModelAccessible(ctx context.Context, userID int64, model string) bool {
	tier, err := h.ledger.Tier(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to resolve tier", zap.Error(err), zap.Int64("user_id", userID))
		return false
	}
	return contains(h.cfg.Models.TierAccess[tier], model)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
