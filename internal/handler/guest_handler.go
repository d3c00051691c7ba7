package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// GuestMeter is the guest usage surface.
type GuestMeter interface {
	Today() string
	CanAccessContent(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error)
	TryConsume(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error)
	Usage(ctx context.Context, date string) ([]models.GuestDailyUsage, error)
}

// GuestHandler meters anonymous content access.
type GuestHandler struct {
	meter GuestMeter
}

// NewGuestHandler constructs a guest handler.
func NewGuestHandler(meter GuestMeter) *GuestHandler {
	return &GuestHandler{meter: meter}
}

func (h *GuestHandler) date(c *gin.Context) string {
	if d := c.Query("date"); d != "" {
		return d
	}
	return h.meter.Today()
}

// Usage godoc
// @Summary Guest usage for a day
// @Tags Guest
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today UTC"
// @Success 200 {object} response.Envelope
// @Router /guest/usage [get]
func (h *GuestHandler) Usage(c *gin.Context) {
	usage, err := h.meter.Usage(c.Request.Context(), h.date(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, usage, nil)
}

// Check godoc
// @Summary Check whether a guest may open content
// @Tags Guest
// @Produce json
// @Param contentType path string true "lessons, readings or quizzes"
// @Param date query string false "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /guest/usage/{contentType} [get]
func (h *GuestHandler) Check(c *gin.Context) {
	result, err := h.meter.CanAccessContent(c.Request.Context(), c.Param("contentType"), h.date(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Consume godoc
// @Summary Consume one guest access
// @Description Checks and increments the counter atomically. Returns 429 when the daily limit is reached.
// @Tags Guest
// @Produce json
// @Param contentType path string true "lessons, readings or quizzes"
// @Success 200 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /guest/usage/{contentType} [post]
func (h *GuestHandler) Consume(c *gin.Context) {
	result, err := h.meter.TryConsume(c.Request.Context(), c.Param("contentType"), h.meter.Today())
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}
	response.JSON(c, status, result, nil)
}
