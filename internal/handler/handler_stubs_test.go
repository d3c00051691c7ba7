package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/middleware"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/response"
)

func newTestContext(method, path string, body io.Reader) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func signIn(c *gin.Context, remoteID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.SessionClaims{UserID: "id-" + remoteID, RemoteID: remoteID, Role: role})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type identityStub struct {
	IdentityAPI
	signUps []models.SignUpRequest
	user    *models.MergedUser
	err     error
}

func (s *identityStub) SignUp(ctx context.Context, req models.SignUpRequest) (*models.Session, error) {
	s.signUps = append(s.signUps, req)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{Token: "token"}, nil
}

func (s *identityStub) CurrentUser(ctx context.Context, remoteID string) (*models.MergedUser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

type guestStub struct {
	GuestMeter
	result *models.GuestAccessResult
	dates  []string
}

func (s *guestStub) Today() string { return "2026-10-18" }

func (s *guestStub) TryConsume(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error) {
	s.dates = append(s.dates, date)
	return s.result, nil
}

func (s *guestStub) CanAccessContent(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error) {
	s.dates = append(s.dates, date)
	return s.result, nil
}

type queueStub struct {
	WriteQueue
	result *models.SubmitResult
}

func (s *queueStub) Submit(ctx context.Context, req models.RemoteWriteRequest) (*models.SubmitResult, error) {
	return s.result, nil
}

type triggerStub struct{ reasons []string }

func (s *triggerStub) Trigger(reason string) bool {
	s.reasons = append(s.reasons, reason)
	return len(s.reasons) == 1
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}
