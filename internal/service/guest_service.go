package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// GuestDateLayout is the calendar-date key of the guest meter.
const GuestDateLayout = "2006-01-02"

const defaultGuestMax = 5

type guestUsageRepository interface {
	EnsureDay(ctx context.Context, date string, limits map[string]int) error
	Get(ctx context.Context, date, contentType string) (*models.GuestDailyUsage, error)
	ListByDate(ctx context.Context, date string) ([]models.GuestDailyUsage, error)
	Increment(ctx context.Context, date, contentType string) error
	IncrementBelowMax(ctx context.Context, date, contentType string) (bool, error)
}

type guestSettingsReader interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.AppSetting, error)
}

// GuestLimits holds the default daily maximum per content type.
type GuestLimits struct {
	Lessons  int
	Readings int
	Quizzes  int
}

func (l GuestLimits) asMap() map[string]int {
	return map[string]int{
		models.GuestLessons:  l.Lessons,
		models.GuestReadings: l.Readings,
		models.GuestQuizzes:  l.Quizzes,
	}
}

// GuestService meters anonymous daily consumption of gated content.
type GuestService struct {
	repo     guestUsageRepository
	settings guestSettingsReader
	limits   GuestLimits
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewGuestService constructs a GuestService. Zero limits default to five.
func NewGuestService(repo guestUsageRepository, settings guestSettingsReader, limits GuestLimits, metrics *MetricsService, logger *zap.Logger) *GuestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.Lessons <= 0 {
		limits.Lessons = defaultGuestMax
	}
	if limits.Readings <= 0 {
		limits.Readings = defaultGuestMax
	}
	if limits.Quizzes <= 0 {
		limits.Quizzes = defaultGuestMax
	}
	return &GuestService{
		repo:     repo,
		settings: settings,
		limits:   limits,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Today is the current UTC calendar date.
func (s *GuestService) Today() string {
	return s.now().UTC().Format(GuestDateLayout)
}

// CanAccessContent reports whether the counter for contentType on date is
// still below its maximum.
func (s *GuestService) CanAccessContent(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error) {
	usage, err := s.load(ctx, contentType, date)
	if err != nil {
		return nil, err
	}
	result := toAccessResult(usage, usage.Used < usage.MaxAllowed)
	s.metrics.RecordGuestAccess(contentType, result.Allowed)
	return result, nil
}

// RecordContentAccess counts one access on date.
func (s *GuestService) RecordContentAccess(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error) {
	if _, err := s.load(ctx, contentType, date); err != nil {
		return nil, err
	}
	if err := s.repo.Increment(ctx, date, contentType); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to record guest access")
	}
	usage, err := s.repo.Get(ctx, date, contentType)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to reload guest usage")
	}
	s.metrics.RecordGuestAccess(contentType, usage.Used <= usage.MaxAllowed)
	return toAccessResult(usage, true), nil
}

// TryConsume checks and counts in one statement, so the counter never
// passes its maximum.
func (s *GuestService) TryConsume(ctx context.Context, contentType, date string) (*models.GuestAccessResult, error) {
	if _, err := s.load(ctx, contentType, date); err != nil {
		return nil, err
	}
	allowed, err := s.repo.IncrementBelowMax(ctx, date, contentType)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to consume guest access")
	}
	usage, err := s.repo.Get(ctx, date, contentType)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to reload guest usage")
	}
	s.metrics.RecordGuestAccess(contentType, allowed)
	return toAccessResult(usage, allowed), nil
}

// Usage returns every counter of date.
func (s *GuestService) Usage(ctx context.Context, date string) ([]models.GuestDailyUsage, error) {
	if err := validateGuestDate(date); err != nil {
		return nil, err
	}
	if err := s.ensureDay(ctx, date); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list guest usage")
	}
	return rows, nil
}

func (s *GuestService) load(ctx context.Context, contentType, date string) (*models.GuestDailyUsage, error) {
	if !isGuestContentType(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown guest content type %q", contentType))
	}
	if err := validateGuestDate(date); err != nil {
		return nil, err
	}
	if err := s.ensureDay(ctx, date); err != nil {
		return nil, err
	}
	usage, err := s.repo.Get(ctx, date, contentType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guest usage row missing")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to load guest usage")
	}
	return usage, nil
}

func (s *GuestService) ensureDay(ctx context.Context, date string) error {
	if err := s.repo.EnsureDay(ctx, date, s.currentLimits(ctx)); err != nil {
		return appErrors.StoreUnavailable(err, "failed to initialise guest usage")
	}
	return nil
}

// currentLimits overlays the guest_max_* app settings on the configured
// defaults. They only apply to dates not yet seen.
func (s *GuestService) currentLimits(ctx context.Context) map[string]int {
	limits := s.limits.asMap()
	if s.settings == nil {
		return limits
	}
	keys := make([]string, 0, len(models.GuestContentTypes))
	for _, contentType := range models.GuestContentTypes {
		keys = append(keys, guestLimitSettingKey(contentType))
	}
	items, err := s.settings.ListByKeys(ctx, keys)
	if err != nil {
		s.logger.Warn("guest limit settings unavailable", zap.Error(err))
		return limits
	}
	for _, item := range items {
		for _, contentType := range models.GuestContentTypes {
			if item.Key != guestLimitSettingKey(contentType) {
				continue
			}
			if n, err := strconv.Atoi(item.Value); err == nil && n >= 0 {
				limits[contentType] = n
			}
		}
	}
	return limits
}

func guestLimitSettingKey(contentType string) string {
	return "guest_max_" + contentType
}

func isGuestContentType(contentType string) bool {
	for _, known := range models.GuestContentTypes {
		if known == contentType {
			return true
		}
	}
	return false
}

func validateGuestDate(date string) error {
	if _, err := time.Parse(GuestDateLayout, date); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "date must be formatted as YYYY-MM-DD")
	}
	return nil
}

func toAccessResult(usage *models.GuestDailyUsage, allowed bool) *models.GuestAccessResult {
	return &models.GuestAccessResult{
		Allowed:   allowed,
		Used:      usage.Used,
		Max:       usage.MaxAllowed,
		Remaining: usage.Remaining(),
		Date:      usage.UsageDate,
	}
}
