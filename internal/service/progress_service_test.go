package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func newProgressServiceForTest(t *testing.T) (*ProgressService, *sqlx.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewProgressService(
		repository.NewTxManager(db),
		repository.NewUserRepository(db),
		repository.NewProgressRepository(db),
		repository.NewAchievementRepository(db),
		nil, nil, nil, nil,
		ProgressConfig{XPPerCompletion: 10, XPPerLevel: 100},
	)
	return svc, db
}

func TestRecordProgressIsAnUpsert(t *testing.T) {
	svc, db := newProgressServiceForTest(t)
	ctx := context.Background()
	createUser(t, db, "learner", models.RoleStudent)

	first, err := svc.RecordProgress(ctx, "learner", models.ProgressInput{ContentType: "lesson", ContentID: "l-1", Status: models.ProgressInProgress, Attempts: 1})
	require.NoError(t, err)
	assert.False(t, first.FirstCompletion)
	require.NotNil(t, first.Progress.StartedAt)
	assert.Nil(t, first.Progress.CompletedAt)

	score := 90.0
	done, err := svc.RecordProgress(ctx, "learner", models.ProgressInput{ContentType: "lesson", ContentID: "l-1", Status: models.ProgressCompleted, Score: &score, Attempts: 2})
	require.NoError(t, err)
	assert.True(t, done.FirstCompletion)
	assert.Equal(t, 10, done.XPAwarded)
	assert.Equal(t, []string{AchievementFirstLesson}, done.AchievementsEarned)
	require.NotNil(t, done.Progress.CompletedAt)
	assert.Equal(t, first.Progress.StartedAt.Unix(), done.Progress.StartedAt.Unix())

	replay, err := svc.RecordProgress(ctx, "learner", models.ProgressInput{ContentType: "lesson", ContentID: "l-1", Status: models.ProgressCompleted, Score: &score, Attempts: 3})
	require.NoError(t, err)
	assert.False(t, replay.FirstCompletion)
	assert.Zero(t, replay.XPAwarded)
	assert.Empty(t, replay.AchievementsEarned)
	assert.Equal(t, 3, replay.Progress.Attempts)

	assert.Equal(t, 1, countRows(t, db, "progress"))
	assert.Equal(t, 1, countRows(t, db, "user_achievements"))

	stats, err := svc.Stats(ctx, "learner")
	require.NoError(t, err)
	// 10 for the completion plus 20 for first_lesson.
	assert.Equal(t, 30, stats.XP)
	assert.Equal(t, 5, stats.Coins)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.StreakDays)
}

func TestEarnAchievementIsIdempotent(t *testing.T) {
	svc, db := newProgressServiceForTest(t)
	ctx := context.Background()
	createUser(t, db, "learner", models.RoleStudent)

	granted, err := svc.EarnAchievement(ctx, "learner", AchievementStreak7)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = svc.EarnAchievement(ctx, "learner", AchievementStreak7)
	require.NoError(t, err)
	assert.False(t, granted)

	assert.Equal(t, 1, countRows(t, db, "user_achievements"))
	stats, err := svc.Stats(ctx, "learner")
	require.NoError(t, err)
	assert.Equal(t, 70, stats.XP, "reward credited once")

	_, err = svc.EarnAchievement(ctx, "learner", "does_not_exist")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	views, err := svc.ListAchievements(ctx, "learner")
	require.NoError(t, err)
	for _, v := range views {
		assert.Equal(t, v.Code == AchievementStreak7, v.Earned(), v.Code)
	}
}

func TestStreakGrowsAcrossConsecutiveDays(t *testing.T) {
	svc, db := newProgressServiceForTest(t)
	ctx := context.Background()
	createUser(t, db, "learner", models.RoleStudent)

	day := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	var last *models.ProgressResult
	for i := 0; i < 3; i++ {
		current := day.AddDate(0, 0, i)
		svc.now = func() time.Time { return current }
		result, err := svc.RecordProgress(ctx, "learner", models.ProgressInput{ContentType: "reading", ContentID: current.Format("r-20060102"), Status: models.ProgressCompleted})
		require.NoError(t, err)
		last = result
	}
	assert.Contains(t, last.AchievementsEarned, AchievementStreak3)

	svc.now = func() time.Time { return day.AddDate(0, 0, 5) }
	_, err := svc.RecordProgress(ctx, "learner", models.ProgressInput{ContentType: "reading", ContentID: "gap", Status: models.ProgressInProgress})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "learner")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StreakDays)
	assert.Equal(t, 3, stats.LongestStreak)
}

func TestRecordProgressRequiresKnownActiveUser(t *testing.T) {
	svc, db := newProgressServiceForTest(t)
	ctx := context.Background()
	input := models.ProgressInput{ContentType: "quiz", ContentID: "q-1", Status: models.ProgressCompleted}

	_, err := svc.RecordProgress(ctx, "ghost", input)
	assert.True(t, appErrors.IsUnauthorized(err))

	user := createUser(t, db, "sleeper", models.RoleStudent)
	require.NoError(t, repository.NewUserRepository(db).SetActive(ctx, user.ID, false))
	_, err = svc.RecordProgress(ctx, "sleeper", input)
	assert.True(t, appErrors.IsUnauthorized(err))
	assert.Zero(t, countRows(t, db, "progress"))

	_, err = svc.RecordProgress(ctx, "sleeper", models.ProgressInput{ContentType: "video", ContentID: "v", Status: models.ProgressCompleted})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
