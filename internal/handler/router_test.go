package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/config"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type sessionStub struct{}

func (sessionStub) ValidateToken(token string) (*models.SessionClaims, error) {
	switch token {
	case "student":
		return &models.SessionClaims{RemoteID: "remote-student", Role: models.RoleStudent}, nil
	case "admin":
		return &models.SessionClaims{RemoteID: "remote-admin", Role: models.RoleAdmin}, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type maintenanceFlag bool

func (m maintenanceFlag) MaintenanceMode(context.Context) bool { return bool(m) }

type ledgerStub struct{ ProgressLedger }

func (ledgerStub) RecordProgress(ctx context.Context, remoteID string, input models.ProgressInput) (*models.ProgressResult, error) {
	return &models.ProgressResult{}, nil
}

func testRouter(maintenance bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Env: "test", APIPrefix: "/api/v1", Metrics: config.MetricsConfig{Enabled: true}}
	return NewRouter(RouterDeps{
		Config:      cfg,
		Sessions:    sessionStub{},
		Maintenance: maintenanceFlag(maintenance),
		Auth:        NewAuthHandler(&identityStub{user: &models.MergedUser{}}),
		Guest:       NewGuestHandler(&guestStub{}),
		Progress:    NewProgressHandler(ledgerStub{}),
		Content:     NewContentHandler(nil),
		Contact:     NewContactHandler(nil),
		Analytics:   NewAnalyticsHandler(nil),
		Sync:        NewSyncHandler(&queueStub{}, &triggerStub{}),
		Admin:       NewAdminHandler(&adminStub{}, 1<<20),
		Health:      NewMetricsHandler(nil, nil),
	})
}

func call(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterGatesRoutes(t *testing.T) {
	r := testRouter(false)

	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, call(r, http.MethodGet, "/metrics", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/v1/me", "", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/me", "student", "").Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/v1/admin/export?dataset=users", "student", "").Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/v1/content", "student", "{}").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/admin/export?dataset=users", "admin", "").Code)

	w := call(r, http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouterMaintenanceExemptsSignIn(t *testing.T) {
	r := testRouter(true)
	progress := `{"content_type":"lesson","content_id":"l-1","status":"completed"}`

	assert.Equal(t, http.StatusServiceUnavailable, call(r, http.MethodPut, "/api/v1/progress", "student", progress).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPut, "/api/v1/progress", "admin", progress).Code)
	assert.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/api/v1/auth/signup", "", `{"email":"a@b.cm","password":"secret1","display_name":"Ada"}`).Code)
}
