package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type countingAnalyticsRepo struct {
	*repository.AnalyticsRepository
	countCalls int
}

func (r *countingAnalyticsRepo) CountByName(ctx context.Context, since *time.Time) ([]models.EventCount, error) {
	r.countCalls++
	return r.AnalyticsRepository.CountByName(ctx, since)
}

type stubCacheRepo struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.store, key)
	}
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range s.store {
		if strings.HasPrefix(key, prefix) {
			delete(s.store, key)
		}
	}
	return nil
}

func TestTrackAttachesSignedInUser(t *testing.T) {
	db := newTestDB(t)
	student := createUser(t, db, "student-1", models.RoleStudent)
	svc := NewAnalyticsService(repository.NewAnalyticsRepository(db), repository.NewUserRepository(db), nil, nil, nil, nil)
	ctx := context.Background()

	event, err := svc.Track(ctx, student.RemoteID, models.TrackEventRequest{EventName: "lesson_opened", Properties: map[string]interface{}{"lesson": "greetings"}})
	require.NoError(t, err)
	require.NotNil(t, event.UserID)
	assert.Equal(t, student.ID, *event.UserID)
	assert.JSONEq(t, `{"lesson":"greetings"}`, event.Properties)

	anonymous, err := svc.Track(ctx, "", models.TrackEventRequest{EventName: "app_opened"})
	require.NoError(t, err)
	assert.Nil(t, anonymous.UserID)

	_, err = svc.Track(ctx, "", models.TrackEventRequest{EventName: "Bad Name"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, 2, countRows(t, db, "analytics_events"))
}

func TestCountByNameUsesCache(t *testing.T) {
	db := newTestDB(t)
	admin := createUser(t, db, "admin-1", models.RoleAdmin)
	student := createUser(t, db, "student-1", models.RoleStudent)
	repo := &countingAnalyticsRepo{AnalyticsRepository: repository.NewAnalyticsRepository(db)}
	cache := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := NewAnalyticsService(repo, repository.NewUserRepository(db), cache, nil, nil, nil)
	ctx := context.Background()

	for _, name := range []string{"lesson_opened", "lesson_opened", "quiz_started"} {
		_, err := svc.Track(ctx, "", models.TrackEventRequest{EventName: name})
		require.NoError(t, err)
	}

	_, _, err := svc.CountByName(ctx, student.RemoteID, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	counts, hit, err := svc.CountByName(ctx, admin.RemoteID, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []models.EventCount{{EventName: "lesson_opened", Count: 2}, {EventName: "quiz_started", Count: 1}}, counts)

	cached, hit, err := svc.CountByName(ctx, admin.RemoteID, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, counts, cached)
	assert.Equal(t, 1, repo.countCalls)

	future := time.Now().Add(time.Hour)
	none, _, err := svc.CountByName(ctx, admin.RemoteID, &future)
	require.NoError(t, err)
	assert.Empty(t, none)
}
