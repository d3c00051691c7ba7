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

// AdminLogRepository appends to and reads the audit trail. It has no update
// or delete methods.
type AdminLogRepository struct {
	db sqlx.ExtContext
}

// NewAdminLogRepository constructs the repository.
func NewAdminLogRepository(db sqlx.ExtContext) *AdminLogRepository {
	return &AdminLogRepository{db: db}
}

// Create appends an audit record.
func (r *AdminLogRepository) Create(ctx context.Context, log *models.AdminLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.Details == "" {
		log.Details = "{}"
	}
	const query = `INSERT INTO admin_logs (id, actor_id, action, target_type, target_id, details, created_at)
VALUES (:id, :actor_id, :action, :target_type, :target_id, :details, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, log); err != nil {
		return fmt.Errorf("create admin log: %w", err)
	}
	return nil
}

// List returns audit records, newest first, with the total count.
func (r *AdminLogRepository) List(ctx context.Context, filter models.AdminLogFilter) ([]models.AdminLog, int, error) {
	baseQuery := `FROM admin_logs WHERE 1=1`
	var conditions []string
	var args []interface{}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	listQuery := fmt.Sprintf("SELECT id, actor_id, action, target_type, target_id, details, created_at %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", baseQuery, pageSize, (page-1)*pageSize)
	var logs []models.AdminLog
	if err := sqlx.SelectContext(ctx, r.db, &logs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list admin logs: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count admin logs: %w", err)
	}
	return logs, total, nil
}
