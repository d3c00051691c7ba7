package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// ContentAuthoring is the teacher content surface.
type ContentAuthoring interface {
	CreateContent(ctx context.Context, remoteID string, req models.CreateContentRequest) (*models.TeacherContent, error)
	SubmitContentForReview(ctx context.Context, remoteID, contentID string) (*models.TeacherContent, error)
	DeleteContent(ctx context.Context, remoteID, contentID string) error
	ListMine(ctx context.Context, remoteID string) ([]models.TeacherContent, error)
}

// ContentHandler lets teachers author content for moderation.
type ContentHandler struct {
	content ContentAuthoring
}

// NewContentHandler constructs a content handler.
func NewContentHandler(content ContentAuthoring) *ContentHandler {
	return &ContentHandler{content: content}
}

// Create godoc
// @Summary Create content
// @Tags Content
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.CreateContentRequest true "Content"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /content [post]
func (h *ContentHandler) Create(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.CreateContentRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.content.CreateContent(c.Request.Context(), remoteID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Mine godoc
// @Summary List the caller's content
// @Tags Content
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /content/mine [get]
func (h *ContentHandler) Mine(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	items, err := h.content.ListMine(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Submit godoc
// @Summary Submit content for review
// @Tags Content
// @Security BearerAuth
// @Produce json
// @Param id path string true "Content ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /content/{id}/submit [post]
func (h *ContentHandler) Submit(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	item, err := h.content.SubmitContentForReview(c.Request.Context(), remoteID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete content
// @Tags Content
// @Security BearerAuth
// @Param id path string true "Content ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /content/{id} [delete]
func (h *ContentHandler) Delete(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.content.DeleteContent(c.Request.Context(), remoteID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
