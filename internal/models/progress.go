package models

import "time"

// ProgressStatus tracks how far a learner is through a content item.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// Progress is the per-user, per-content ledger row.
type Progress struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	ContentType    string         `db:"content_type" json:"content_type"`
	ContentID      string         `db:"content_id" json:"content_id"`
	Status         ProgressStatus `db:"status" json:"status"`
	Score          *float64       `db:"score" json:"score,omitempty"`
	TimeSpent      int            `db:"time_spent" json:"time_spent"`
	Attempts       int            `db:"attempts" json:"attempts"`
	StartedAt      *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	LastAccessedAt time.Time      `db:"last_accessed_at" json:"last_accessed_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ProgressInput is the client payload for recording progress.
type ProgressInput struct {
	ContentType string         `json:"content_type" validate:"required,oneof=lesson quiz reading translation"`
	ContentID   string         `json:"content_id" validate:"required,max=120"`
	Status      ProgressStatus `json:"status" validate:"required,oneof=not_started in_progress completed"`
	Score       *float64       `json:"score" validate:"omitempty,gte=0,lte=100"`
	TimeSpent   int            `json:"time_spent" validate:"gte=0"`
	Attempts    int            `json:"attempts" validate:"gte=0"`
}

// ProgressResult reports what a RecordProgress call changed.
type ProgressResult struct {
	Progress           Progress `json:"progress"`
	FirstCompletion    bool     `json:"first_completion"`
	XPAwarded          int      `json:"xp_awarded"`
	AchievementsEarned []string `json:"achievements_earned,omitempty"`
}

// ProgressFilter scopes progress listings.
type ProgressFilter struct {
	ContentType string
	Status      ProgressStatus
}

// LearnerStats summarises a user's ledger.
type LearnerStats struct {
	XP               int `db:"xp" json:"xp"`
	Level            int `db:"level" json:"level"`
	Coins            int `db:"coins" json:"coins"`
	StreakDays       int `db:"streak_days" json:"streak_days"`
	LongestStreak    int `db:"longest_streak" json:"longest_streak"`
	Completed        int `db:"completed" json:"completed"`
	InProgress       int `db:"in_progress" json:"in_progress"`
	AchievementCount int `db:"achievement_count" json:"achievement_count"`
}
