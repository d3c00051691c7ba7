package models

import "time"

// UserRole is the closed set of roles a local user can hold.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether the role belongs to the closed set.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// User is the local mirror of a remote identity stored in the users table.
type User struct {
	ID               string     `db:"id" json:"id"`
	RemoteID         string     `db:"remote_id" json:"remote_id"`
	Email            string     `db:"email" json:"email"`
	DisplayName      string     `db:"display_name" json:"display_name"`
	Role             UserRole   `db:"role" json:"role"`
	Active           bool       `db:"is_active" json:"is_active"`
	EmailVerified    bool       `db:"email_verified" json:"email_verified"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	Coins            int        `db:"coins" json:"coins"`
	StreakDays       int        `db:"streak_days" json:"streak_days"`
	LongestStreak    int        `db:"longest_streak" json:"longest_streak"`
	XP               int        `db:"xp" json:"xp"`
	Level            int        `db:"level" json:"level"`
	LastActivityDate *string    `db:"last_activity_date" json:"last_activity_date,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// HasRole reports whether the user holds one of roles.
func (u *User) HasRole(roles ...UserRole) bool {
	if u == nil {
		return false
	}
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UpdateRoleRequest is the admin payload for a role change.
type UpdateRoleRequest struct {
	Role UserRole `json:"role" validate:"required,oneof=student teacher admin"`
}

// SetActiveRequest is the admin payload for (de)activating an account.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}
