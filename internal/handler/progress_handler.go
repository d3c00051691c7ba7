package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// ProgressLedger records learner progress and achievements.
type ProgressLedger interface {
	RecordProgress(ctx context.Context, remoteID string, input models.ProgressInput) (*models.ProgressResult, error)
	EarnAchievement(ctx context.Context, remoteID, code string) (bool, error)
	ListProgress(ctx context.Context, remoteID string, filter models.ProgressFilter) ([]models.Progress, error)
	ListAchievements(ctx context.Context, remoteID string) ([]models.AchievementView, error)
	Stats(ctx context.Context, remoteID string) (*models.LearnerStats, error)
}

// ProgressHandler serves the learner's own progress.
type ProgressHandler struct {
	ledger ProgressLedger
}

// NewProgressHandler constructs a progress handler.
func NewProgressHandler(ledger ProgressLedger) *ProgressHandler {
	return &ProgressHandler{ledger: ledger}
}

// Record godoc
// @Summary Record progress on a content item
// @Description Upserts the progress row. The first completion awards XP and evaluates achievements.
// @Tags Progress
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.ProgressInput true "Progress"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /progress [put]
func (h *ProgressHandler) Record(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var input models.ProgressInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := h.ledger.RecordProgress(c.Request.Context(), remoteID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List progress
// @Tags Progress
// @Security BearerAuth
// @Produce json
// @Param content_type query string false "Content type filter"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /progress [get]
func (h *ProgressHandler) List(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	filter := models.ProgressFilter{ContentType: c.Query("content_type"), Status: models.ProgressStatus(c.Query("status"))}
	items, err := h.ledger.ListProgress(c.Request.Context(), remoteID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Achievements godoc
// @Summary Achievement catalog with earned flags
// @Tags Progress
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /achievements [get]
func (h *ProgressHandler) Achievements(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	views, err := h.ledger.ListAchievements(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Earn godoc
// @Summary Earn an achievement
// @Description Idempotent. granted is false when the achievement was already held.
// @Tags Progress
// @Security BearerAuth
// @Produce json
// @Param code path string true "Achievement code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /achievements/{code} [post]
func (h *ProgressHandler) Earn(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	code := c.Param("code")
	granted, err := h.ledger.EarnAchievement(c.Request.Context(), remoteID, code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"code": code, "granted": granted}, nil)
}

// Stats godoc
// @Summary Learner statistics
// @Tags Progress
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats [get]
func (h *ProgressHandler) Stats(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	stats, err := h.ledger.Stats(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
