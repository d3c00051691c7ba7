package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/logger"
)

type validatorStub map[string]*models.SessionClaims

func (v validatorStub) ValidateToken(token string) (*models.SessionClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	if token == "provider-down" {
		return nil, appErrors.ErrIdentityUnavailable
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type maintenanceStub bool

func (m maintenanceStub) MaintenanceMode(context.Context) bool { return bool(m) }

var testSessions = validatorStub{
	"student-token": {UserID: "u-1", RemoteID: "remote-student", Role: models.RoleStudent},
	"admin-token":   {UserID: "u-2", RemoteID: "remote-admin", Role: models.RoleAdmin},
}

func perform(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(testSessions), func(c *gin.Context) {
		claims := Claims(c)
		actor, _ := c.Get(logger.ContextActorKey)
		c.JSON(http.StatusOK, gin.H{"remote_id": claims.RemoteID, "actor": actor})
	})

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "bogus").Code)

	w := perform(r, http.MethodGet, "/me", "student-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"remote_id":"remote-student","actor":"remote-student"}`, w.Body.String())
}

func TestOptionalJWTLetsGuestsThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events", OptionalJWT(testSessions), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"signed_in": Claims(c) != nil})
	})

	assert.JSONEq(t, `{"signed_in":false}`, perform(r, http.MethodGet, "/events", "").Body.String())
	assert.JSONEq(t, `{"signed_in":false}`, perform(r, http.MethodGet, "/events", "bogus").Body.String())
	assert.JSONEq(t, `{"signed_in":true}`, perform(r, http.MethodGet, "/events", "admin-token").Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, perform(r, http.MethodGet, "/events", "provider-down").Code)
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", JWT(testSessions), RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", "student-token").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/admin", "admin-token").Code)
}
