package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// AnalyticsRepository describes the persistence layer required by AnalyticsService.
type AnalyticsRepository interface {
	Create(ctx context.Context, event *models.AnalyticsEvent) error
	CountByName(ctx context.Context, since *time.Time) ([]models.EventCount, error)
}

var eventNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)

const analyticsCacheTTL = time.Minute

// AnalyticsService records product events and serves cached aggregates.
type AnalyticsService struct {
	repo      AnalyticsRepository
	users     progressUserReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo AnalyticsRepository, users progressUserReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AnalyticsService{repo: repo, users: users, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Track stores an event. Anonymous events are accepted; a signed-in caller
// is attached by local user id.
func (s *AnalyticsService) Track(ctx context.Context, remoteID string, req models.TrackEventRequest) (*models.AnalyticsEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid event")
	}
	if !eventNamePattern.MatchString(req.EventName) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "event name must be lower snake case")
	}

	event := &models.AnalyticsEvent{EventName: req.EventName, Properties: "{}"}
	if len(req.Properties) > 0 {
		raw, err := json.Marshal(req.Properties)
		if err != nil {
			return nil, appErrors.ErrValidation.Wrap(err, "event properties are not serialisable")
		}
		event.Properties = string(raw)
	}
	if remoteID != "" {
		if user, err := activeUser(ctx, s.users, remoteID); err == nil {
			event.UserID = &user.ID
		}
	}

	start := time.Now()
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to record event")
	}
	s.metrics.ObserveDBQuery("analytics_track", time.Since(start))
	return event, nil
}

// CountByName aggregates events per name, optionally since a point in time.
// The boolean reports a cache hit. Admins only.
func (s *AnalyticsService) CountByName(ctx context.Context, remoteID string, since *time.Time) ([]models.EventCount, bool, error) {
	if _, err := authorize(ctx, s.users, remoteID, models.RoleAdmin); err != nil {
		return nil, false, err
	}

	cacheKey := analyticsCacheKey(since)
	var cached []models.EventCount
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	start := time.Now()
	counts, err := s.repo.CountByName(ctx, since)
	if err != nil {
		return nil, false, appErrors.StoreUnavailable(err, "failed to count events")
	}
	s.metrics.ObserveDBQuery("analytics_count_by_name", time.Since(start))
	if err := s.cache.Set(ctx, cacheKey, counts, analyticsCacheTTL); err != nil {
		s.logger.Warn("cache analytics counts", zap.Error(err))
	}
	return counts, false, nil
}

func analyticsCacheKey(since *time.Time) string {
	if since == nil {
		return "mayegue:analytics:counts:all"
	}
	return fmt.Sprintf("mayegue:analytics:counts:%d", since.UTC().Unix())
}
