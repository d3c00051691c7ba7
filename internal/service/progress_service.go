package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// Catalog codes granted automatically by the ledger.
const (
	AchievementFirstLesson = "first_lesson"
	AchievementFirstQuiz   = "first_quiz"
	AchievementStreak3     = "streak_3"
	AchievementStreak7     = "streak_7"
	AchievementXP500       = "xp_500"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

type progressUserReader interface {
	FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error)
}

type progressReader interface {
	ListByUser(ctx context.Context, userID string, filter models.ProgressFilter) ([]models.Progress, error)
	Stats(ctx context.Context, userID string) (*models.LearnerStats, error)
}

type achievementReader interface {
	ListForUser(ctx context.Context, userID string) ([]models.AchievementView, error)
}

// ProgressConfig tunes rewards.
type ProgressConfig struct {
	XPPerCompletion int
	XPPerLevel      int
}

// ProgressService is the per-user learning ledger.
type ProgressService struct {
	tx           txRunner
	users        progressUserReader
	progress     progressReader
	achievements achievementReader
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	config       ProgressConfig
	now          func() time.Time
}

// NewProgressService constructs a ProgressService.
func NewProgressService(tx txRunner, users progressUserReader, progress progressReader, achievements achievementReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config ProgressConfig) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.XPPerCompletion < 0 {
		config.XPPerCompletion = 0
	}
	if config.XPPerLevel <= 0 {
		config.XPPerLevel = 100
	}
	return &ProgressService{
		tx:           tx,
		users:        users,
		progress:     progress,
		achievements: achievements,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		config:       config,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RecordProgress upserts the caller's row for a content item. The first
// completion awards XP and evaluates automatic achievements in the same
// transaction, so a replay cannot award twice.
func (s *ProgressService) RecordProgress(ctx context.Context, remoteID string, input models.ProgressInput) (*models.ProgressResult, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid progress payload")
	}

	now := s.now()
	result := &models.ProgressResult{}
	err := s.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		user, err := activeUser(ctx, tx.Users, remoteID)
		if err != nil {
			return err
		}

		existing, err := tx.Progress.Find(ctx, user.ID, input.ContentType, input.ContentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.StoreUnavailable(err, "failed to load progress")
		}

		row := &models.Progress{
			UserID:      user.ID,
			ContentType: input.ContentType,
			ContentID:   input.ContentID,
			Status:      input.Status,
			Score:       input.Score,
			TimeSpent:   input.TimeSpent,
			Attempts:    input.Attempts,
		}
		if existing != nil {
			row.ID = existing.ID
			row.StartedAt = existing.StartedAt
		}
		result.FirstCompletion = input.Status == models.ProgressCompleted && (existing == nil || existing.CompletedAt == nil)
		if result.FirstCompletion {
			row.CompletedAt = &now
		}
		if err := tx.Progress.Upsert(ctx, row); err != nil {
			return appErrors.StoreUnavailable(err, "failed to record progress")
		}

		if err := s.touchStreak(ctx, tx, user, now); err != nil {
			return err
		}
		if result.FirstCompletion && s.config.XPPerCompletion > 0 {
			if err := tx.Users.AddRewards(ctx, user.ID, s.config.XPPerCompletion, 0, s.config.XPPerLevel); err != nil {
				return appErrors.StoreUnavailable(err, "failed to award experience")
			}
			result.XPAwarded = s.config.XPPerCompletion
		}
		if result.FirstCompletion {
			earned, err := s.evaluateRules(ctx, tx, user.ID, input.ContentType, now)
			if err != nil {
				return err
			}
			result.AchievementsEarned = earned
		}

		stored, err := tx.Progress.Find(ctx, user.ID, input.ContentType, input.ContentID)
		if err != nil {
			return appErrors.StoreUnavailable(err, "failed to reload progress")
		}
		result.Progress = *stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordProgress(string(input.Status))
	s.metrics.RecordAchievementGranted(len(result.AchievementsEarned))
	s.cache.Evict(ctx, IdentityCacheKey(remoteID))
	return result, nil
}

// touchStreak extends the daily activity streak. Repeated activity on the
// same UTC date leaves it unchanged.
func (s *ProgressService) touchStreak(ctx context.Context, tx *repository.Tx, user *models.User, now time.Time) error {
	today := now.Format(GuestDateLayout)
	streak := user.StreakDays
	switch {
	case user.LastActivityDate != nil && *user.LastActivityDate == today:
		if streak > 0 {
			return nil
		}
		streak = 1
	case user.LastActivityDate != nil && *user.LastActivityDate == now.AddDate(0, 0, -1).Format(GuestDateLayout):
		streak++
	default:
		streak = 1
	}
	longest := user.LongestStreak
	if streak > longest {
		longest = streak
	}
	if err := tx.Users.UpdateStreak(ctx, user.ID, streak, longest, today); err != nil {
		return appErrors.StoreUnavailable(err, "failed to update streak")
	}
	user.StreakDays = streak
	user.LongestStreak = longest
	user.LastActivityDate = &today
	return nil
}

func (s *ProgressService) evaluateRules(ctx context.Context, tx *repository.Tx, userID, contentType string, now time.Time) ([]string, error) {
	var candidates []string
	switch contentType {
	case "lesson":
		candidates = append(candidates, AchievementFirstLesson)
	case "quiz":
		candidates = append(candidates, AchievementFirstQuiz)
	}

	user, err := tx.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to reload user")
	}
	if user.StreakDays >= 3 {
		candidates = append(candidates, AchievementStreak3)
	}
	if user.StreakDays >= 7 {
		candidates = append(candidates, AchievementStreak7)
	}
	if user.XP >= 500 {
		candidates = append(candidates, AchievementXP500)
	}

	earned := []string{}
	for _, code := range candidates {
		achievement, err := tx.Achievements.FindByCode(ctx, code)
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("achievement rule references unknown code", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, appErrors.StoreUnavailable(err, "failed to load achievement")
		}
		granted, err := s.grant(ctx, tx, userID, achievement, now)
		if err != nil {
			return nil, err
		}
		if granted {
			earned = append(earned, code)
		}
	}
	return earned, nil
}

func (s *ProgressService) grant(ctx context.Context, tx *repository.Tx, userID string, achievement *models.Achievement, now time.Time) (bool, error) {
	granted, err := tx.Achievements.Grant(ctx, userID, achievement.ID, now)
	if err != nil {
		return false, appErrors.StoreUnavailable(err, "failed to grant achievement")
	}
	if !granted {
		return false, nil
	}
	if achievement.XPReward > 0 || achievement.CoinReward > 0 {
		if err := tx.Users.AddRewards(ctx, userID, achievement.XPReward, achievement.CoinReward, s.config.XPPerLevel); err != nil {
			return false, appErrors.StoreUnavailable(err, "failed to credit achievement reward")
		}
	}
	return true, nil
}

// EarnAchievement grants a catalog entry. It returns false without side
// effects when the caller already holds it.
func (s *ProgressService) EarnAchievement(ctx context.Context, remoteID, code string) (bool, error) {
	var granted bool
	err := s.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		user, err := activeUser(ctx, tx.Users, remoteID)
		if err != nil {
			return err
		}
		achievement, err := tx.Achievements.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "achievement not found")
			}
			return appErrors.StoreUnavailable(err, "failed to load achievement")
		}
		granted, err = s.grant(ctx, tx, user.ID, achievement, s.now())
		return err
	})
	if err != nil {
		return false, err
	}
	if granted {
		s.metrics.RecordAchievementGranted(1)
		s.cache.Evict(ctx, IdentityCacheKey(remoteID))
	}
	return granted, nil
}

// ListProgress returns the caller's ledger rows.
func (s *ProgressService) ListProgress(ctx context.Context, remoteID string, filter models.ProgressFilter) ([]models.Progress, error) {
	user, err := activeUser(ctx, s.users, remoteID)
	if err != nil {
		return nil, err
	}
	rows, err := s.progress.ListByUser(ctx, user.ID, filter)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list progress")
	}
	return rows, nil
}

// ListAchievements returns the catalog with the caller's grants.
func (s *ProgressService) ListAchievements(ctx context.Context, remoteID string) ([]models.AchievementView, error) {
	user, err := activeUser(ctx, s.users, remoteID)
	if err != nil {
		return nil, err
	}
	views, err := s.achievements.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list achievements")
	}
	return views, nil
}

// Stats summarises the caller's ledger.
func (s *ProgressService) Stats(ctx context.Context, remoteID string) (*models.LearnerStats, error) {
	user, err := activeUser(ctx, s.users, remoteID)
	if err != nil {
		return nil, err
	}
	stats, err := s.progress.Stats(ctx, user.ID)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to load stats")
	}
	return stats, nil
}

// activeUser resolves a signed-in caller. Unknown or deactivated callers are
// unauthorized.
func activeUser(ctx context.Context, users progressUserReader, remoteID string) (*models.User, error) {
	if remoteID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "sign in required")
	}
	user, err := users.FindByRemoteID(ctx, remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user is not reconciled")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive")
	}
	return user, nil
}
