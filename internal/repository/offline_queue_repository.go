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

const offlineQueueColumns = `id, action_type, collection, operation, document_id, payload, retry_count, max_retries, last_error, remote_id, created_at, last_attempt_at, processed_at`

// OfflineQueueRepository persists buffered remote writes.
type OfflineQueueRepository struct {
	db sqlx.ExtContext
}

// NewOfflineQueueRepository constructs the repository.
func NewOfflineQueueRepository(db sqlx.ExtContext) *OfflineQueueRepository {
	return &OfflineQueueRepository{db: db}
}

// Create buffers a write with zero retries.
func (r *OfflineQueueRepository) Create(ctx context.Context, item *models.OfflineQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Payload == "" {
		item.Payload = "{}"
	}
	item.RetryCount = 0
	const query = `INSERT INTO offline_queue (id, action_type, collection, operation, document_id, payload, retry_count, max_retries, created_at)
VALUES (:id, :action_type, :collection, :operation, :document_id, :payload, :retry_count, :max_retries, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, item); err != nil {
		return fmt.Errorf("enqueue offline item: %w", err)
	}
	return nil
}

// FindByID returns a queue item.
func (r *OfflineQueueRepository) FindByID(ctx context.Context, id string) (*models.OfflineQueueItem, error) {
	query := `SELECT ` + offlineQueueColumns + ` FROM offline_queue WHERE id = ?`
	var item models.OfflineQueueItem
	if err := sqlx.GetContext(ctx, r.db, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find offline item: %w", err)
	}
	return &item, nil
}

// ListDrainable returns unprocessed items with retries left, oldest first.
func (r *OfflineQueueRepository) ListDrainable(ctx context.Context, limit int) ([]models.OfflineQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + offlineQueueColumns + ` FROM offline_queue WHERE processed_at IS NULL AND retry_count < max_retries ORDER BY created_at ASC, id ASC LIMIT ?`
	var items []models.OfflineQueueItem
	if err := sqlx.SelectContext(ctx, r.db, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list drainable offline items: %w", err)
	}
	return items, nil
}

// ListExhausted returns unprocessed items that used up their retries.
func (r *OfflineQueueRepository) ListExhausted(ctx context.Context) ([]models.OfflineQueueItem, error) {
	query := `SELECT ` + offlineQueueColumns + ` FROM offline_queue WHERE processed_at IS NULL AND retry_count >= max_retries ORDER BY created_at ASC`
	var items []models.OfflineQueueItem
	if err := sqlx.SelectContext(ctx, r.db, &items, query); err != nil {
		return nil, fmt.Errorf("list exhausted offline items: %w", err)
	}
	return items, nil
}

// MarkProcessed moves an item to its terminal state. Processed items are
// never touched again.
func (r *OfflineQueueRepository) MarkProcessed(ctx context.Context, id string, remoteID *string, at time.Time) error {
	const query = `UPDATE offline_queue SET processed_at = ?, last_attempt_at = ?, remote_id = ?, last_error = NULL WHERE id = ? AND processed_at IS NULL`
	return execAffecting(ctx, r.db, "mark offline item processed", query, at, at, remoteID, id)
}

// RecordFailure increments the retry count and stores the latest error.
func (r *OfflineQueueRepository) RecordFailure(ctx context.Context, id, message string, at time.Time) error {
	const query = `UPDATE offline_queue SET retry_count = retry_count + 1, last_error = ?, last_attempt_at = ? WHERE id = ? AND processed_at IS NULL`
	return execAffecting(ctx, r.db, "record offline item failure", query, message, at, id)
}

// ResetRetries makes an unprocessed item eligible for draining again.
func (r *OfflineQueueRepository) ResetRetries(ctx context.Context, id string) error {
	const query = `UPDATE offline_queue SET retry_count = 0 WHERE id = ? AND processed_at IS NULL`
	return execAffecting(ctx, r.db, "reset offline item", query, id)
}

// Stats counts items per state.
func (r *OfflineQueueRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	const query = `SELECT
  COALESCE(SUM(CASE WHEN processed_at IS NULL AND retry_count < max_retries THEN 1 ELSE 0 END), 0) AS pending,
  COALESCE(SUM(CASE WHEN processed_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS processed,
  COALESCE(SUM(CASE WHEN processed_at IS NULL AND retry_count >= max_retries THEN 1 ELSE 0 END), 0) AS exhausted
FROM offline_queue`
	var stats models.QueueStats
	if err := sqlx.GetContext(ctx, r.db, &stats, query); err != nil {
		return nil, fmt.Errorf("offline queue stats: %w", err)
	}
	return &stats, nil
}
