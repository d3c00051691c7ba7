package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/migration"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/store"
	"github.com/noah-isme/mayegue-core/pkg/database"
)

func newSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := migration.NewEngine(store.New(db), nil, nil)
	require.NoError(t, engine.RegisterAll(migration.Definitions()))
	result := engine.RunPending(context.Background())
	require.True(t, result.OK(), result.Messages())
	return db
}

func seedUser(t *testing.T, db *sqlx.DB, remoteID string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{RemoteID: remoteID, Email: remoteID + "@example.com", DisplayName: remoteID, Role: role, Active: true}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func TestCreateUserDuplicateRemoteID(t *testing.T) {
	db := newSQLite(t)
	seedUser(t, db, "abc", models.RoleStudent)

	err := NewUserRepository(db).Create(context.Background(), &models.User{RemoteID: "abc", Email: "x@example.com", Role: models.RoleStudent})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestProgressUpsertKeepsOneRow(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	user := seedUser(t, db, "learner", models.RoleStudent)
	repo := NewProgressRepository(db)

	require.NoError(t, repo.Upsert(ctx, &models.Progress{UserID: user.ID, ContentType: "lesson", ContentID: "l1", Status: models.ProgressInProgress, Attempts: 1}))

	completedAt := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, &models.Progress{UserID: user.ID, ContentType: "lesson", ContentID: "l1", Status: models.ProgressCompleted, Attempts: 2, CompletedAt: &completedAt}))
	require.NoError(t, repo.Upsert(ctx, &models.Progress{UserID: user.ID, ContentType: "lesson", ContentID: "l1", Status: models.ProgressInProgress, Attempts: 3}))

	rows, err := repo.ListByUser(ctx, user.ID, models.ProgressFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Attempts)
	assert.Equal(t, models.ProgressInProgress, rows[0].Status)
	assert.NotNil(t, rows[0].CompletedAt, "completion timestamp is sticky")
	assert.NotNil(t, rows[0].StartedAt)
}

func TestAchievementGrantIsIdempotent(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	user := seedUser(t, db, "learner", models.RoleStudent)
	repo := NewAchievementRepository(db)

	ach, err := repo.FindByCode(ctx, "first_lesson")
	require.NoError(t, err)

	granted, err := repo.Grant(ctx, user.ID, ach.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = repo.Grant(ctx, user.ID, ach.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, granted)

	views, err := repo.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	earned := 0
	for _, v := range views {
		if v.Earned() {
			earned++
		}
	}
	assert.Equal(t, 1, earned)

	_, err = repo.FindByCode(ctx, "unknown")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGuestUsageIncrementBelowMax(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	repo := NewGuestUsageRepository(db)

	limits := map[string]int{models.GuestLessons: 2, models.GuestReadings: 5, models.GuestQuizzes: 5}
	require.NoError(t, repo.EnsureDay(ctx, "2025-01-01", limits))
	require.NoError(t, repo.EnsureDay(ctx, "2025-01-01", limits))

	rows, err := repo.ListByDate(ctx, "2025-01-01")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	for i := 0; i < 2; i++ {
		ok, err := repo.IncrementBelowMax(ctx, "2025-01-01", models.GuestLessons)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := repo.IncrementBelowMax(ctx, "2025-01-01", models.GuestLessons)
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := repo.Get(ctx, "2025-01-01", models.GuestLessons)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Equal(t, 0, usage.Remaining())
}

func TestOfflineQueueLifecycle(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	repo := NewOfflineQueueRepository(db)

	first := &models.OfflineQueueItem{ActionType: "progress", Collection: "progress", Operation: models.OperationCreate, MaxRetries: 1, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	second := &models.OfflineQueueItem{ActionType: "progress", Collection: "progress", Operation: models.OperationUpdate, MaxRetries: 3}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	items, err := repo.ListDrainable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)

	now := time.Now().UTC()
	require.NoError(t, repo.RecordFailure(ctx, first.ID, "offline", now))
	remoteID := "remote-1"
	require.NoError(t, repo.MarkProcessed(ctx, second.ID, &remoteID, now))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, second.ID, &remoteID, now), sql.ErrNoRows)

	items, err = repo.ListDrainable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	exhausted, err := repo.ListExhausted(ctx)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "offline", *exhausted[0].LastError)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Pending: 0, Processed: 1, Exhausted: 1}, *stats)

	require.NoError(t, repo.ResetRetries(ctx, first.ID))
	items, err = repo.ListDrainable(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTxManagerRollsBackAllRepositories(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	admin := seedUser(t, db, "admin", models.RoleAdmin)
	target := seedUser(t, db, "target", models.RoleStudent)

	boom := errors.New("audit failed")
	err := NewTxManager(db).WithinTx(ctx, func(tx *Tx) error {
		if err := tx.Users.UpdateRole(ctx, target.ID, models.RoleTeacher); err != nil {
			return err
		}
		if err := tx.AdminLogs.Create(ctx, &models.AdminLog{ActorID: admin.ID, Action: models.ActionUpdateUserRole, TargetType: models.TargetUser, TargetID: target.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := NewUserRepository(db).FindByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, reloaded.Role)

	logs, total, err := NewAdminLogRepository(db).List(ctx, models.AdminLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, total)
}

func TestNewsletterSubscribeIsIdempotent(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	repo := NewContactRepository(db)

	require.NoError(t, repo.Subscribe(ctx, "reader@example.com"))
	require.NoError(t, repo.Subscribe(ctx, "reader@example.com"))
	require.NoError(t, repo.Unsubscribe(ctx, "reader@example.com"))
	assert.ErrorIs(t, repo.Unsubscribe(ctx, "reader@example.com"), sql.ErrNoRows)

	sub, err := repo.FindSubscription(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.False(t, sub.IsActive)
	assert.NotNil(t, sub.UnsubscribedAt)
}

func TestAppSettingUpsert(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()
	repo := NewAppSettingRepository(db)

	require.NoError(t, repo.Upsert(ctx, &models.AppSetting{Key: "maintenance_mode", Value: "false", Type: models.SettingTypeBoolean}))
	require.NoError(t, repo.Upsert(ctx, &models.AppSetting{Key: "maintenance_mode", Value: "true", Type: models.SettingTypeBoolean}))

	settings, err := repo.ListByKeys(ctx, []string{"maintenance_mode", "support_email"})
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "true", settings[0].Value)
}
