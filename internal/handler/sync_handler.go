package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// WriteQueue accepts remote writes and reports queue state.
type WriteQueue interface {
	Submit(ctx context.Context, req models.RemoteWriteRequest) (*models.SubmitResult, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// DrainTrigger schedules a background drain.
type DrainTrigger interface {
	Trigger(reason string) bool
}

// SyncHandler forwards client writes to the document store and schedules
// replays of buffered writes.
type SyncHandler struct {
	queue  WriteQueue
	drains DrainTrigger
}

// NewSyncHandler constructs a sync handler.
func NewSyncHandler(queue WriteQueue, drains DrainTrigger) *SyncHandler {
	return &SyncHandler{queue: queue, drains: drains}
}

// Submit godoc
// @Summary Submit a remote write
// @Description Delivers immediately when the document store is reachable, otherwise buffers the write (202).
// @Tags Sync
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.RemoteWriteRequest true "Write"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /sync/writes [post]
func (h *SyncHandler) Submit(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	var req models.RemoteWriteRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.queue.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Queued {
		response.Accepted(c, result)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Drain godoc
// @Summary Schedule a drain of buffered writes
// @Tags Sync
// @Security BearerAuth
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /sync/drain [post]
func (h *SyncHandler) Drain(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	scheduled := h.drains.Trigger("request")
	response.Accepted(c, gin.H{"scheduled": scheduled})
}

// Stats godoc
// @Summary Offline queue counts
// @Tags Sync
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/stats [get]
func (h *SyncHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
