package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

// IdentityAPI is the identity surface used by the auth endpoints.
type IdentityAPI interface {
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.Session, error)
	SignIn(ctx context.Context, req models.SignInRequest) (*models.Session, error)
	SignInFederated(ctx context.Context, req models.FederatedSignInRequest) (*models.Session, error)
	SignOut(ctx context.Context, remoteID string) error
	SendVerificationEmail(ctx context.Context, remoteID string) error
	RequestPasswordReset(ctx context.Context, req models.PasswordResetRequest) error
	CurrentUser(ctx context.Context, remoteID string) (*models.MergedUser, error)
}

// AuthHandler exposes sign-up, sign-in and session endpoints.
type AuthHandler struct {
	identity IdentityAPI
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(identity IdentityAPI) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// SignUp godoc
// @Summary Sign up with email
// @Description Creates the remote account and reconciles the local user
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.SignUpRequest true "Sign up payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /auth/signup [post]
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.identity.SignUp(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// SignIn godoc
// @Summary Sign in with email
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.SignInRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/signin [post]
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req models.SignInRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.identity.SignIn(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// SignInFederated godoc
// @Summary Sign in with a federated provider token
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.FederatedSignInRequest true "Provider token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/federated [post]
func (h *AuthHandler) SignInFederated(c *gin.Context) {
	var req models.FederatedSignInRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.identity.SignInFederated(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// SignOut godoc
// @Summary Sign out
// @Tags Auth
// @Security BearerAuth
// @Success 204
// @Router /auth/signout [post]
func (h *AuthHandler) SignOut(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.identity.SignOut(c.Request.Context(), remoteID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SendVerificationEmail godoc
// @Summary Resend the verification email
// @Tags Auth
// @Security BearerAuth
// @Success 202 {object} response.Envelope
// @Router /auth/verify-email [post]
func (h *AuthHandler) SendVerificationEmail(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.identity.SendVerificationEmail(c.Request.Context(), remoteID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"sent": true})
}

// RequestPasswordReset godoc
// @Summary Request a password reset email
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.PasswordResetRequest true "Account email"
// @Success 202 {object} response.Envelope
// @Router /auth/password-reset [post]
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req models.PasswordResetRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.identity.RequestPasswordReset(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"sent": true})
}

// Me godoc
// @Summary Current user
// @Description Returns the merged local and remote view of the caller
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	user, err := h.identity.CurrentUser(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
