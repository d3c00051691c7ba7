package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

const progressColumns = `id, user_id, content_type, content_id, status, score, time_spent, attempts, started_at, completed_at, last_accessed_at, updated_at`

// ProgressRepository persists the per-content learning ledger.
type ProgressRepository struct {
	db sqlx.ExtContext
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db sqlx.ExtContext) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Find returns the row for a (user, content type, content id) triple.
func (r *ProgressRepository) Find(ctx context.Context, userID, contentType, contentID string) (*models.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM progress WHERE user_id = ? AND content_type = ? AND content_id = ?`
	var p models.Progress
	if err := sqlx.GetContext(ctx, r.db, &p, query, userID, contentType, contentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return &p, nil
}

// Upsert inserts the triple or overwrites its mutable fields. started_at is
// written only on insert and completed_at is never cleared once set.
func (r *ProgressRepository) Upsert(ctx context.Context, p *models.Progress) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.LastAccessedAt = now
	p.UpdatedAt = now
	if p.StartedAt == nil {
		p.StartedAt = &now
	}

	const query = `INSERT INTO progress (id, user_id, content_type, content_id, status, score, time_spent, attempts, started_at, completed_at, last_accessed_at, updated_at)
VALUES (:id, :user_id, :content_type, :content_id, :status, :score, :time_spent, :attempts, :started_at, :completed_at, :last_accessed_at, :updated_at)
ON CONFLICT (user_id, content_type, content_id)
DO UPDATE SET status = excluded.status, score = excluded.score, time_spent = excluded.time_spent,
              attempts = excluded.attempts, completed_at = COALESCE(progress.completed_at, excluded.completed_at),
              last_accessed_at = excluded.last_accessed_at, updated_at = excluded.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, p); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// ListByUser returns a user's rows, most recently touched first.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string, filter models.ProgressFilter) ([]models.Progress, error) {
	conditions := []string{"user_id = ?"}
	args := []interface{}{userID}
	if filter.ContentType != "" {
		conditions = append(conditions, "content_type = ?")
		args = append(args, filter.ContentType)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	query := fmt.Sprintf("SELECT %s FROM progress WHERE %s ORDER BY updated_at DESC", progressColumns, strings.Join(conditions, " AND "))
	var rows []models.Progress
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return rows, nil
}

// Stats aggregates the ledger and the user's counters.
func (r *ProgressRepository) Stats(ctx context.Context, userID string) (*models.LearnerStats, error) {
	const query = `SELECT u.xp, u.level, u.coins, u.streak_days, u.longest_streak,
       (SELECT COUNT(*) FROM progress p WHERE p.user_id = u.id AND p.status = 'completed') AS completed,
       (SELECT COUNT(*) FROM progress p WHERE p.user_id = u.id AND p.status = 'in_progress') AS in_progress,
       (SELECT COUNT(*) FROM user_achievements ua WHERE ua.user_id = u.id) AS achievement_count
FROM users u WHERE u.id = ?`
	var stats models.LearnerStats
	if err := sqlx.GetContext(ctx, r.db, &stats, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("progress stats: %w", err)
	}
	return &stats, nil
}
