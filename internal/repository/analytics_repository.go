package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

// AnalyticsRepository records product analytics events locally.
type AnalyticsRepository struct {
	db sqlx.ExtContext
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db sqlx.ExtContext) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// Create stores an event.
func (r *AnalyticsRepository) Create(ctx context.Context, event *models.AnalyticsEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Properties == "" {
		event.Properties = "{}"
	}
	const query = `INSERT INTO analytics_events (id, user_id, event_name, properties, created_at) VALUES (:id, :user_id, :event_name, :properties, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, event); err != nil {
		return fmt.Errorf("create analytics event: %w", err)
	}
	return nil
}

// CountByName aggregates events, optionally since a point in time.
func (r *AnalyticsRepository) CountByName(ctx context.Context, since *time.Time) ([]models.EventCount, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT event_name, COUNT(*) AS count FROM analytics_events`)
	var args []interface{}
	if since != nil {
		builder.WriteString(` WHERE created_at >= ?`)
		args = append(args, since.UTC())
	}
	builder.WriteString(` GROUP BY event_name ORDER BY count DESC, event_name ASC`)

	var counts []models.EventCount
	if err := sqlx.SelectContext(ctx, r.db, &counts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count analytics events: %w", err)
	}
	return counts, nil
}
