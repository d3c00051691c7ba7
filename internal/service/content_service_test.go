package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func TestContentLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	teacher := createUser(t, db, "teacher-1", models.RoleTeacher)
	other := createUser(t, db, "teacher-2", models.RoleTeacher)
	student := createUser(t, db, "student-1", models.RoleStudent)
	admin := createUser(t, db, "admin-1", models.RoleAdmin)
	contents := repository.NewTeacherContentRepository(db)
	svc := NewContentService(repository.NewTxManager(db), repository.NewUserRepository(db), contents, nil, nil, nil)

	req := models.CreateContentRequest{ContentType: models.ContentLesson, ContentID: "lesson-greetings", Title: "Greetings"}
	_, err := svc.CreateContent(ctx, student.RemoteID, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.CreateContent(ctx, student.RemoteID, models.CreateContentRequest{ContentType: "video"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	created, err := svc.CreateContent(ctx, teacher.RemoteID, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewDraft, created.Status)

	_, err = svc.CreateContent(ctx, other.RemoteID, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.SubmitContentForReview(ctx, other.RemoteID, created.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	submitted, err := svc.SubmitContentForReview(ctx, teacher.RemoteID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, submitted.Status)

	_, err = svc.SubmitContentForReview(ctx, teacher.RemoteID, created.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	mine, err := svc.ListMine(ctx, teacher.RemoteID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	err = svc.DeleteContent(ctx, other.RemoteID, created.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	require.NoError(t, svc.DeleteContent(ctx, admin.RemoteID, created.ID))

	err = svc.DeleteContent(ctx, teacher.RemoteID, created.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	var actions []string
	require.NoError(t, db.Select(&actions, `SELECT action FROM admin_logs ORDER BY created_at, rowid`))
	assert.Equal(t, []string{models.ActionCreateContent, models.ActionSubmitContent, models.ActionDeleteContent}, actions)
}

func TestCreateContentCanSubmitImmediately(t *testing.T) {
	db := newTestDB(t)
	teacher := createUser(t, db, "teacher-1", models.RoleTeacher)
	svc := NewContentService(repository.NewTxManager(db), repository.NewUserRepository(db), repository.NewTeacherContentRepository(db), nil, nil, nil)

	created, err := svc.CreateContent(context.Background(), teacher.RemoteID, models.CreateContentRequest{
		ContentType:     models.ContentQuiz,
		ContentID:       "quiz-1",
		Title:           "Numbers",
		SubmitForReview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, created.Status)

	_, err = svc.CreateContent(context.Background(), teacher.RemoteID, models.CreateContentRequest{ContentType: "video", ContentID: "x", Title: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestContentAuditFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	teacher := createUser(t, db, "teacher-1", models.RoleTeacher)
	breakAuditLog(t, db)
	svc := NewContentService(repository.NewTxManager(db), repository.NewUserRepository(db), repository.NewTeacherContentRepository(db), nil, nil, nil)

	_, err := svc.CreateContent(context.Background(), teacher.RemoteID, models.CreateContentRequest{ContentType: models.ContentLesson, ContentID: "l-1", Title: "t"})
	require.Error(t, err)
	assert.Zero(t, countRows(t, db, "teacher_content"))
}
