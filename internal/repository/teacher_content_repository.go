package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

const teacherContentColumns = `id, author_id, content_type, content_id, title, status, reviewer_id, review_notes, reviewed_at, created_at, updated_at`

// TeacherContentRepository persists authored content awaiting moderation.
type TeacherContentRepository struct {
	db sqlx.ExtContext
}

// NewTeacherContentRepository constructs the repository.
func NewTeacherContentRepository(db sqlx.ExtContext) *TeacherContentRepository {
	return &TeacherContentRepository{db: db}
}

// Create inserts a new content record.
func (r *TeacherContentRepository) Create(ctx context.Context, content *models.TeacherContent) error {
	if content.ID == "" {
		content.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	content.CreatedAt = now
	content.UpdatedAt = now
	const query = `INSERT INTO teacher_content (id, author_id, content_type, content_id, title, status, created_at, updated_at)
VALUES (:id, :author_id, :content_type, :content_id, :title, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, content); err != nil {
		return fmt.Errorf("create teacher content: %w", err)
	}
	return nil
}

// FindByID returns a content record.
func (r *TeacherContentRepository) FindByID(ctx context.Context, id string) (*models.TeacherContent, error) {
	query := `SELECT ` + teacherContentColumns + ` FROM teacher_content WHERE id = ?`
	var content models.TeacherContent
	if err := sqlx.GetContext(ctx, r.db, &content, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher content: %w", err)
	}
	return &content, nil
}

// UpdateStatus moves content to a new review state.
func (r *TeacherContentRepository) UpdateStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	const query = `UPDATE teacher_content SET status = ?, updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "update content status", query, status, time.Now().UTC(), id)
}

// Review records a moderation decision.
func (r *TeacherContentRepository) Review(ctx context.Context, id string, status models.ReviewStatus, reviewerID, notes string) error {
	now := time.Now().UTC()
	var notesArg interface{}
	if notes != "" {
		notesArg = notes
	}
	const query = `UPDATE teacher_content SET status = ?, reviewer_id = ?, review_notes = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "review content", query, status, reviewerID, notesArg, now, now, id)
}

// Delete removes a content record.
func (r *TeacherContentRepository) Delete(ctx context.Context, id string) error {
	return execAffecting(ctx, r.db, "delete teacher content", `DELETE FROM teacher_content WHERE id = ?`, id)
}

// ListByStatus returns content in a review state, oldest first.
func (r *TeacherContentRepository) ListByStatus(ctx context.Context, status models.ReviewStatus) ([]models.TeacherContent, error) {
	query := `SELECT ` + teacherContentColumns + ` FROM teacher_content WHERE status = ? ORDER BY created_at ASC`
	var items []models.TeacherContent
	if err := sqlx.SelectContext(ctx, r.db, &items, query, status); err != nil {
		return nil, fmt.Errorf("list teacher content: %w", err)
	}
	return items, nil
}

// ListByAuthor returns an author's content, newest first.
func (r *TeacherContentRepository) ListByAuthor(ctx context.Context, authorID string) ([]models.TeacherContent, error) {
	query := `SELECT ` + teacherContentColumns + ` FROM teacher_content WHERE author_id = ? ORDER BY created_at DESC`
	var items []models.TeacherContent
	if err := sqlx.SelectContext(ctx, r.db, &items, query, authorID); err != nil {
		return nil, fmt.Errorf("list author content: %w", err)
	}
	return items, nil
}
