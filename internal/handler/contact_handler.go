package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// ContactDesk handles contact messages and newsletter subscriptions.
type ContactDesk interface {
	SubmitContactMessage(ctx context.Context, req models.ContactRequest) (*models.ContactMessage, error)
	ListMessages(ctx context.Context, remoteID string, unreadOnly bool) ([]models.ContactMessage, error)
	Subscribe(ctx context.Context, req models.NewsletterRequest) (*models.NewsletterSubscription, error)
	Unsubscribe(ctx context.Context, req models.NewsletterRequest) error
}

// ContactHandler exposes the public contact form and newsletter endpoints.
type ContactHandler struct {
	desk ContactDesk
}

// NewContactHandler constructs a contact handler.
func NewContactHandler(desk ContactDesk) *ContactHandler {
	return &ContactHandler{desk: desk}
}

// Submit godoc
// @Summary Send a contact message
// @Tags Contact
// @Accept json
// @Produce json
// @Param payload body models.ContactRequest true "Message"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /contact [post]
func (h *ContactHandler) Submit(c *gin.Context) {
	var req models.ContactRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.desk.SubmitContactMessage(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// List godoc
// @Summary List contact messages
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param unread query bool false "Only unread messages"
// @Success 200 {object} response.Envelope
// @Router /admin/contact [get]
func (h *ContactHandler) List(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(c.Query("unread"))
	msgs, err := h.desk.ListMessages(c.Request.Context(), remoteID, unread)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, msgs, nil)
}

// Subscribe godoc
// @Summary Subscribe to the newsletter
// @Tags Contact
// @Accept json
// @Produce json
// @Param payload body models.NewsletterRequest true "Email"
// @Success 200 {object} response.Envelope
// @Router /newsletter [post]
func (h *ContactHandler) Subscribe(c *gin.Context) {
	var req models.NewsletterRequest
	if !bindJSON(c, &req) {
		return
	}
	sub, err := h.desk.Subscribe(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// Unsubscribe godoc
// @Summary Unsubscribe from the newsletter
// @Tags Contact
// @Accept json
// @Param payload body models.NewsletterRequest true "Email"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /newsletter [delete]
func (h *ContactHandler) Unsubscribe(c *gin.Context) {
	var req models.NewsletterRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.desk.Unsubscribe(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
