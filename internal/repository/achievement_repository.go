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

// AchievementRepository reads the catalog and records grants.
type AchievementRepository struct {
	db sqlx.ExtContext
}

// NewAchievementRepository constructs the repository.
func NewAchievementRepository(db sqlx.ExtContext) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// FindByCode returns a catalog entry.
func (r *AchievementRepository) FindByCode(ctx context.Context, code string) (*models.Achievement, error) {
	const query = `SELECT id, code, name, description, icon, xp_reward, coin_reward, created_at FROM achievements WHERE code = ?`
	var a models.Achievement
	if err := sqlx.GetContext(ctx, r.db, &a, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find achievement: %w", err)
	}
	return &a, nil
}

// Grant records the achievement for the user. It returns false when the user
// already held it; the unique (user_id, achievement_id) pair decides.
func (r *AchievementRepository) Grant(ctx context.Context, userID, achievementID string, earnedAt time.Time) (bool, error) {
	const query = `INSERT INTO user_achievements (id, user_id, achievement_id, earned_at) VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, achievement_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, achievementID, earnedAt)
	if err != nil {
		return false, fmt.Errorf("grant achievement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant achievement: %w", err)
	}
	return affected == 1, nil
}

// ListForUser returns the catalog annotated with the user's grants.
func (r *AchievementRepository) ListForUser(ctx context.Context, userID string) ([]models.AchievementView, error) {
	const query = `SELECT a.id, a.code, a.name, a.description, a.icon, a.xp_reward, a.coin_reward, a.created_at, ua.earned_at
FROM achievements a
LEFT JOIN user_achievements ua ON ua.achievement_id = a.id AND ua.user_id = ?
ORDER BY a.code ASC`
	var views []models.AchievementView
	if err := sqlx.SelectContext(ctx, r.db, &views, query, userID); err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return views, nil
}
