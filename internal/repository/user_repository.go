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

const userColumns = `id, remote_id, email, display_name, role, is_active, email_verified, last_login_at, coins, streak_days, longest_streak, xp, level, last_activity_date, created_at, updated_at`

// UserRepository provides access to the local users table.
type UserRepository struct {
	db sqlx.ExtContext
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db sqlx.ExtContext) *UserRepository {
	return &UserRepository{db: db}
}

// FindByRemoteID returns the user mirrored from a remote identity.
func (r *UserRepository) FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE remote_id = ? LIMIT 1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.db, &user, query, remoteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by remote id: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by local identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? LIMIT 1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.db, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a user. A duplicate remote_id surfaces as a unique
// constraint error reachable through errors.As.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Level == 0 {
		user.Level = 1
	}

	const query = `INSERT INTO users (id, remote_id, email, display_name, role, is_active, email_verified, last_login_at, coins, streak_days, longest_streak, xp, level, last_activity_date, created_at, updated_at)
VALUES (:id, :remote_id, :email, :display_name, :role, :is_active, :email_verified, :last_login_at, :coins, :streak_days, :longest_streak, :xp, :level, :last_activity_date, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateIdentity refreshes the fields owned by the remote identity provider.
// Role is never written here.
func (r *UserRepository) UpdateIdentity(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET email = :email, display_name = :display_name, email_verified = :email_verified, last_login_at = :last_login_at, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, user); err != nil {
		return fmt.Errorf("update user identity: %w", err)
	}
	return nil
}

// UpdateRole changes a user's role.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	const query = `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "update user role", query, role, time.Now().UTC(), id)
}

// SetActive toggles the active flag.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "set user active", query, active, time.Now().UTC(), id)
}

// Delete removes a user and, through foreign keys, their ledger rows.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return execAffecting(ctx, r.db, "delete user", `DELETE FROM users WHERE id = ?`, id)
}

// AddRewards credits XP and coins and recomputes the level.
func (r *UserRepository) AddRewards(ctx context.Context, id string, xp, coins, xpPerLevel int) error {
	if xpPerLevel <= 0 {
		xpPerLevel = 100
	}
	const query = `UPDATE users SET xp = xp + ?, coins = coins + ?, level = 1 + ((xp + ?) / ?), updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "add user rewards", query, xp, coins, xp, xpPerLevel, time.Now().UTC(), id)
}

// UpdateStreak stores the activity streak computed by the ledger.
func (r *UserRepository) UpdateStreak(ctx context.Context, id string, streak, longest int, activityDate string) error {
	const query = `UPDATE users SET streak_days = ?, longest_streak = ?, last_activity_date = ?, updated_at = ? WHERE id = ?`
	return execAffecting(ctx, r.db, "update user streak", query, streak, longest, activityDate, time.Now().UTC(), id)
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, "role = ?")
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, pattern, pattern)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":        true,
		"created_at":   true,
		"updated_at":   true,
		"display_name": true,
		"xp":           true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := sqlx.SelectContext(ctx, r.db, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}
