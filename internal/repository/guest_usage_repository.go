package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

// GuestUsageRepository stores per-date guest counters.
type GuestUsageRepository struct {
	db sqlx.ExtContext
}

// NewGuestUsageRepository constructs the repository.
func NewGuestUsageRepository(db sqlx.ExtContext) *GuestUsageRepository {
	return &GuestUsageRepository{db: db}
}

// EnsureDay creates zero counters for every content type of a date. Existing
// rows are left untouched.
func (r *GuestUsageRepository) EnsureDay(ctx context.Context, date string, limits map[string]int) error {
	const query = `INSERT OR IGNORE INTO guest_daily_usage (usage_date, content_type, used, max_allowed, updated_at) VALUES (?, ?, 0, ?, ?)`
	now := time.Now().UTC()
	for _, contentType := range models.GuestContentTypes {
		limit, ok := limits[contentType]
		if !ok {
			continue
		}
		if _, err := r.db.ExecContext(ctx, query, date, contentType, limit, now); err != nil {
			return fmt.Errorf("init guest usage %s: %w", contentType, err)
		}
	}
	return nil
}

// Get returns one counter.
func (r *GuestUsageRepository) Get(ctx context.Context, date, contentType string) (*models.GuestDailyUsage, error) {
	const query = `SELECT usage_date, content_type, used, max_allowed, updated_at FROM guest_daily_usage WHERE usage_date = ? AND content_type = ?`
	var usage models.GuestDailyUsage
	if err := sqlx.GetContext(ctx, r.db, &usage, query, date, contentType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get guest usage: %w", err)
	}
	return &usage, nil
}

// ListByDate returns every counter of a date.
func (r *GuestUsageRepository) ListByDate(ctx context.Context, date string) ([]models.GuestDailyUsage, error) {
	const query = `SELECT usage_date, content_type, used, max_allowed, updated_at FROM guest_daily_usage WHERE usage_date = ? ORDER BY content_type ASC`
	var rows []models.GuestDailyUsage
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, date); err != nil {
		return nil, fmt.Errorf("list guest usage: %w", err)
	}
	return rows, nil
}

// Increment adds one access unconditionally.
func (r *GuestUsageRepository) Increment(ctx context.Context, date, contentType string) error {
	const query = `UPDATE guest_daily_usage SET used = used + 1, updated_at = ? WHERE usage_date = ? AND content_type = ?`
	return execAffecting(ctx, r.db, "increment guest usage", query, time.Now().UTC(), date, contentType)
}

// IncrementBelowMax adds one access only while the counter is under its
// maximum and reports whether it did.
func (r *GuestUsageRepository) IncrementBelowMax(ctx context.Context, date, contentType string) (bool, error) {
	const query = `UPDATE guest_daily_usage SET used = used + 1, updated_at = ? WHERE usage_date = ? AND content_type = ? AND used < max_allowed`
	err := execAffecting(ctx, r.db, "consume guest usage", query, time.Now().UTC(), date, contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
