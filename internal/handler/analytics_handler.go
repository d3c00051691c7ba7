package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/middleware"
	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// EventTracker records and aggregates analytics events.
type EventTracker interface {
	Track(ctx context.Context, remoteID string, req models.TrackEventRequest) (*models.AnalyticsEvent, error)
	CountByName(ctx context.Context, remoteID string, since *time.Time) ([]models.EventCount, bool, error)
}

// AnalyticsHandler exposes event tracking and the admin event counts.
type AnalyticsHandler struct {
	analytics EventTracker
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics EventTracker) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Track godoc
// @Summary Track an analytics event
// @Description Guests may track events; signed-in callers are attached to the event.
// @Tags Analytics
// @Accept json
// @Produce json
// @Param payload body models.TrackEventRequest true "Event"
// @Success 201 {object} response.Envelope
// @Router /events [post]
func (h *AnalyticsHandler) Track(c *gin.Context) {
	var req models.TrackEventRequest
	if !bindJSON(c, &req) {
		return
	}
	remoteID := ""
	if claims := middleware.Claims(c); claims != nil {
		remoteID = claims.RemoteID
	}
	event, err := h.analytics.Track(c.Request.Context(), remoteID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Counts godoc
// @Summary Event counts by name
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param since query string false "RFC3339 lower bound"
// @Success 200 {object} response.Envelope
// @Router /admin/analytics/events [get]
func (h *AnalyticsHandler) Counts(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.ErrValidation.Wrap(err, "since must be RFC3339"))
			return
		}
		since = &t
	}
	counts, cacheHit, err := h.analytics.CountByName(c.Request.Context(), remoteID, since)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, counts, nil, middleware.ExtractMeta(c))
}
