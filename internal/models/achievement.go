package models

import "time"

// Achievement is a catalog entry.
type Achievement struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Icon        string    `db:"icon" json:"icon"`
	XPReward    int       `db:"xp_reward" json:"xp_reward"`
	CoinReward  int       `db:"coin_reward" json:"coin_reward"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// UserAchievement is a grant of a catalog entry to a user.
type UserAchievement struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	AchievementID string    `db:"achievement_id" json:"achievement_id"`
	EarnedAt      time.Time `db:"earned_at" json:"earned_at"`
}

// AchievementView is a catalog entry annotated with the caller's grant.
type AchievementView struct {
	Achievement
	EarnedAt *time.Time `db:"earned_at" json:"earned_at,omitempty"`
}

// Earned reports whether the caller holds the achievement.
func (a AchievementView) Earned() bool {
	return a.EarnedAt != nil
}
