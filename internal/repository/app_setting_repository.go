package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

const appSettingUpsert = `INSERT INTO app_settings (key, value, type, description, updated_by, updated_at)
VALUES (:key, :value, :type, :description, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = excluded.value, type = excluded.type, description = excluded.description,
              updated_by = excluded.updated_by, updated_at = excluded.updated_at`

// AppSettingRepository persists app settings.
type AppSettingRepository struct {
	db sqlx.ExtContext
}

// NewAppSettingRepository constructs the repository.
func NewAppSettingRepository(db sqlx.ExtContext) *AppSettingRepository {
	return &AppSettingRepository{db: db}
}

// ListByKeys returns settings whose key is in the provided slice.
func (r *AppSettingRepository) ListByKeys(ctx context.Context, keys []string) ([]models.AppSetting, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT key, value, type, description, updated_by, updated_at
FROM app_settings WHERE key IN (%s) ORDER BY key ASC`, placeholders(len(keys)))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	var settings []models.AppSetting
	if err := sqlx.SelectContext(ctx, r.db, &settings, query, args...); err != nil {
		return nil, fmt.Errorf("list app settings: %w", err)
	}
	return settings, nil
}

// Get fetches a single setting by key.
func (r *AppSettingRepository) Get(ctx context.Context, key string) (*models.AppSetting, error) {
	const query = `SELECT key, value, type, description, updated_by, updated_at FROM app_settings WHERE key = ?`
	var setting models.AppSetting
	if err := sqlx.GetContext(ctx, r.db, &setting, query, key); err != nil {
		return nil, err
	}
	return &setting, nil
}

// Upsert inserts or updates a setting.
func (r *AppSettingRepository) Upsert(ctx context.Context, setting *models.AppSetting) error {
	setting.UpdatedAt = time.Now().UTC()
	if _, err := sqlx.NamedExecContext(ctx, r.db, appSettingUpsert, setting); err != nil {
		return fmt.Errorf("upsert app setting: %w", err)
	}
	return nil
}
