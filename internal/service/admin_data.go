package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	"github.com/noah-isme/mayegue-core/internal/store"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/export"
	"github.com/noah-isme/mayegue-core/pkg/storage"
)

// MaxRestoreBytes bounds an uploaded snapshot.
const MaxRestoreBytes = 64 << 20

const backupPrefix = "backup-"

// Export datasets.
const (
	DatasetUsers     = "users"
	DatasetAdminLogs = "admin_logs"
)

// BackupDatabase writes a snapshot of every data table to backup storage and
// returns a signed download token. The file is removed if the audit row
// cannot be written.
func (s *AdminService) BackupDatabase(ctx context.Context, remoteID string) (*models.BackupResult, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if s.snapshots == nil || s.files == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "backups are not configured")
	}

	snap, err := s.snapshots.Export(ctx)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to export snapshot")
	}
	raw, err := snap.Encode()
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to encode snapshot")
	}

	now := s.now()
	id := uuid.NewString()
	name, err := s.files.Save(storage.BackupName(id, now), raw)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to store backup")
	}

	entry := &models.AdminLog{
		ActorID:    actor.ID,
		Action:     models.ActionBackupDatabase,
		TargetType: models.TargetDatabase,
		TargetID:   id,
		Details:    auditDetails(map[string]interface{}{"file": name, "rows": snap.RowCount(), "schema_version": snap.SchemaVersion}),
	}
	err = s.tx.Audited(ctx, entry, func(*repository.Tx) error { return nil })
	s.metrics.RecordAdminAction(models.ActionBackupDatabase, err)
	if err != nil {
		if rmErr := s.files.Delete(name); rmErr != nil {
			s.logger.Error("failed to remove unaudited backup", zap.String("file", name), zap.Error(rmErr))
		}
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(id, name)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to sign backup token")
	}
	s.logger.Info("database backup stored", zap.String("file", name), zap.Int("rows", snap.RowCount()))
	s.pruneBackups()
	return &models.BackupResult{
		ID:        id,
		FileName:  name,
		RowCount:  snap.RowCount(),
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

func (s *AdminService) pruneBackups() {
	if s.retention <= 0 {
		return
	}
	removed, err := s.files.CleanupOlderThan(s.retention)
	if err != nil {
		s.logger.Warn("backup retention sweep failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired backups removed", zap.Strings("files", removed))
	}
}

// ListBackups returns stored snapshots, newest first.
func (s *AdminService) ListBackups(ctx context.Context, remoteID string) ([]storage.FileInfo, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, err
	}
	if s.files == nil {
		return []storage.FileInfo{}, nil
	}
	files, err := s.files.List(backupPrefix)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to list backups")
	}
	return files, nil
}

// DownloadBackup opens the file referenced by a signed token. The token is
// the credential, so no caller lookup happens here.
func (s *AdminService) DownloadBackup(token string) (*os.File, string, error) {
	if s.files == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "backups are not configured")
	}
	_, name, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.ErrForbidden.Wrap(err, "invalid or expired download token")
	}
	file, err := s.files.Open(name)
	if err != nil {
		return nil, "", appErrors.ErrNotFound.Wrap(err, "backup not found")
	}
	return file, name, nil
}

// RestoreDatabase replaces the data tables with the uploaded snapshot. The
// audit trail is merged rather than replaced, and the restore commits with
// its own audit row.
func (s *AdminService) RestoreDatabase(ctx context.Context, remoteID string, r io.Reader) (*models.RestoreResult, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	raw, err := readAllLimited(r, MaxRestoreBytes)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrValidation) {
			return nil, err
		}
		return nil, appErrors.ErrValidation.Wrap(err, "failed to read snapshot")
	}
	snap, err := store.DecodeSnapshot(bytes.NewReader(raw))
	if err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid snapshot")
	}

	result := &models.RestoreResult{SchemaVersion: snap.SchemaVersion, ExportedAt: snap.ExportedAt, Tables: make(map[string]int, len(snap.Tables))}
	for table, rows := range snap.Tables {
		result.Tables[table] = len(rows)
	}

	entry := &models.AdminLog{
		ActorID:    actor.ID,
		Action:     models.ActionRestoreDatabase,
		TargetType: models.TargetDatabase,
		TargetID:   snap.ExportedAt.Format(time.RFC3339),
		Details:    auditDetails(map[string]interface{}{"rows": snap.RowCount(), "schema_version": snap.SchemaVersion}),
	}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		if err := store.ImportInto(ctx, tx.Exec, snap); err != nil {
			return appErrors.ErrValidation.Wrap(err, "failed to apply snapshot")
		}
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionRestoreDatabase, err)
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateIdentities(ctx); err != nil {
		s.logger.Warn("identity cache not cleared after restore", zap.Error(err))
	}
	s.logger.Info("database restored", zap.Int("rows", snap.RowCount()), zap.String("schema_version", snap.SchemaVersion))
	return result, nil
}

// ExportData renders a dataset (users or admin_logs) as csv, pdf or xlsx.
func (s *AdminService) ExportData(ctx context.Context, remoteID, dataset, format string) (*models.ExportFile, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "unsupported export format")
	}

	var data export.Dataset
	switch dataset {
	case DatasetUsers:
		data, err = s.usersDataset(ctx)
	case DatasetAdminLogs:
		data, err = s.adminLogsDataset(ctx)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown dataset %q", dataset))
	}
	if err != nil {
		return nil, err
	}

	body, err := s.renderer.Render(f, data, dataset)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to render export")
	}

	entry := &models.AdminLog{
		ActorID:    actor.ID,
		Action:     models.ActionExportData,
		TargetType: models.TargetDatabase,
		TargetID:   dataset,
		Details:    auditDetails(map[string]interface{}{"format": f, "rows": len(data.Rows)}),
	}
	err = s.tx.Audited(ctx, entry, func(*repository.Tx) error { return nil })
	s.metrics.RecordAdminAction(models.ActionExportData, err)
	if err != nil {
		return nil, err
	}
	return &models.ExportFile{
		FileName:    fmt.Sprintf("%s-%s.%s", dataset, s.now().Format("20060102"), f),
		ContentType: f.ContentType(),
		Data:        body,
	}, nil
}

func (s *AdminService) usersDataset(ctx context.Context) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{"id", "email", "display_name", "role", "active", "xp", "level", "streak_days", "created_at"}}
	const pageSize = 100
	for page := 1; ; page++ {
		users, total, err := s.users.List(ctx, models.UserFilter{Page: page, PageSize: pageSize, SortBy: "created_at", SortOrder: "ASC"})
		if err != nil {
			return data, appErrors.StoreUnavailable(err, "failed to load users")
		}
		for _, u := range users {
			data.Rows = append(data.Rows, map[string]string{
				"id":           u.ID,
				"email":        u.Email,
				"display_name": u.DisplayName,
				"role":         string(u.Role),
				"active":       strconv.FormatBool(u.Active),
				"xp":           strconv.Itoa(u.XP),
				"level":        strconv.Itoa(u.Level),
				"streak_days":  strconv.Itoa(u.StreakDays),
				"created_at":   u.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(users) < pageSize || len(data.Rows) >= total {
			return data, nil
		}
	}
}

func (s *AdminService) adminLogsDataset(ctx context.Context) (export.Dataset, error) {
	data := export.Dataset{Headers: []string{"created_at", "actor_id", "action", "target_type", "target_id", "details"}}
	const pageSize = 200
	for page := 1; ; page++ {
		logs, total, err := s.logs.List(ctx, models.AdminLogFilter{Page: page, PageSize: pageSize})
		if err != nil {
			return data, appErrors.StoreUnavailable(err, "failed to load audit logs")
		}
		for _, l := range logs {
			data.Rows = append(data.Rows, map[string]string{
				"created_at":  l.CreatedAt.UTC().Format(time.RFC3339),
				"actor_id":    l.ActorID,
				"action":      l.Action,
				"target_type": l.TargetType,
				"target_id":   l.TargetID,
				"details":     l.Details,
			})
		}
		if len(logs) < pageSize || len(data.Rows) >= total {
			return data, nil
		}
	}
}
