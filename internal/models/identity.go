package models

// RemoteStats is the statistics snapshot a remote identity may carry.
type RemoteStats struct {
	LessonsCompleted int `json:"lessons_completed"`
	QuizzesCompleted int `json:"quizzes_completed"`
	WordsLearned     int `json:"words_learned"`
	StudyMinutes     int `json:"study_minutes"`
}

// CanonicalIdentity is what the remote identity provider returns after a
// successful authentication.
type CanonicalIdentity struct {
	RemoteID      string       `json:"remote_id"`
	Email         string       `json:"email"`
	DisplayName   string       `json:"display_name"`
	EmailVerified bool         `json:"email_verified"`
	RoleHint      *string      `json:"role_hint,omitempty"`
	Stats         *RemoteStats `json:"stats,omitempty"`
}

// MergedUser combines the local row with remote statistics supplied at
// reconciliation time.
type MergedUser struct {
	User
	Stats *RemoteStats `json:"stats,omitempty"`
}
