package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/migration"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	"github.com/noah-isme/mayegue-core/internal/store"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/export"
	"github.com/noah-isme/mayegue-core/pkg/storage"
)

type adminUserRepository interface {
	FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type pendingContentReader interface {
	ListByStatus(ctx context.Context, status models.ReviewStatus) ([]models.TeacherContent, error)
}

type adminLogReader interface {
	List(ctx context.Context, filter models.AdminLogFilter) ([]models.AdminLog, int, error)
}

type appSettingReader interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.AppSetting, error)
}

type snapshotExporter interface {
	Export(ctx context.Context) (*store.Snapshot, error)
}

type backupStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	List(prefix string) ([]storage.FileInfo, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type tokenSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (string, string, time.Time, error)
}

type migrationReporter interface {
	Summary(ctx context.Context) (*migration.Summary, error)
}

type exhaustedLister interface {
	ListExhausted(ctx context.Context) ([]models.OfflineQueueItem, error)
}

type datasetRenderer interface {
	Render(format export.Format, data export.Dataset, title string) ([]byte, error)
}

// AdminDeps groups the collaborators of AdminService.
type AdminDeps struct {
	Tx              auditRunner
	Users           adminUserRepository
	Content         pendingContentReader
	Logs            adminLogReader
	Settings        appSettingReader
	Snapshots       snapshotExporter
	Files           backupStorage
	BackupRetention time.Duration
	Signer          tokenSigner
	Renderer        datasetRenderer
	Migrations      migrationReporter
	Queue           exhaustedLister
	Cache           *CacheService
	Metrics         *MetricsService
	Validator       *validator.Validate
	Logger          *zap.Logger
}

// AdminService runs privileged operations. Every mutation checks the
// caller's role first and commits together with its audit row.
type AdminService struct {
	tx         auditRunner
	users      adminUserRepository
	content    pendingContentReader
	logs       adminLogReader
	settings   appSettingReader
	snapshots  snapshotExporter
	files      backupStorage
	retention  time.Duration
	signer     tokenSigner
	renderer   datasetRenderer
	migrations migrationReporter
	queue      exhaustedLister
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewAdminService constructs an AdminService.
func NewAdminService(deps AdminDeps) *AdminService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Renderer == nil {
		deps.Renderer = export.NewRenderer()
	}
	return &AdminService{
		tx:         deps.Tx,
		users:      deps.Users,
		content:    deps.Content,
		logs:       deps.Logs,
		settings:   deps.Settings,
		snapshots:  deps.Snapshots,
		files:      deps.Files,
		retention:  deps.BackupRetention,
		signer:     deps.Signer,
		renderer:   deps.Renderer,
		migrations: deps.Migrations,
		queue:      deps.Queue,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		validator:  deps.Validator,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *AdminService) admin(ctx context.Context, remoteID string) (*models.User, error) {
	return authorize(ctx, s.users, remoteID, models.RoleAdmin)
}

// ListUsers pages through local users.
func (s *AdminService) ListUsers(ctx context.Context, remoteID string, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, nil, err
	}
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.StoreUnavailable(err, "failed to list users")
	}
	return users, pagination(filter.Page, filter.PageSize, 20, 100, total), nil
}

// UpdateUserRole changes a user's role. Admins cannot demote themselves.
func (s *AdminService) UpdateUserRole(ctx context.Context, remoteID, userID string, req models.UpdateRoleRequest) (*models.User, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid role payload")
	}
	if actor.ID == userID && req.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admins cannot demote themselves")
	}

	var updated *models.User
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionUpdateUserRole, TargetType: models.TargetUser, TargetID: userID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		target, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Users.UpdateRole(ctx, target.ID, req.Role); err != nil {
			return appErrors.StoreUnavailable(err, "failed to update role")
		}
		entry.Details = auditDetails(map[string]interface{}{"from": target.Role, "to": req.Role})
		updated, err = loadUser(ctx, tx, target.ID)
		return err
	})
	s.metrics.RecordAdminAction(models.ActionUpdateUserRole, err)
	if err != nil {
		return nil, err
	}
	s.cache.Evict(ctx, IdentityCacheKey(updated.RemoteID))
	return updated, nil
}

// SetUserActive activates or deactivates an account. Deactivated users keep
// their data but cannot sign in.
func (s *AdminService) SetUserActive(ctx context.Context, remoteID, userID string, req models.SetActiveRequest) (*models.User, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid active payload")
	}
	active := *req.Active
	if actor.ID == userID && !active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admins cannot deactivate themselves")
	}

	var updated *models.User
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionSetUserActive, TargetType: models.TargetUser, TargetID: userID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		target, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Users.SetActive(ctx, target.ID, active); err != nil {
			return appErrors.StoreUnavailable(err, "failed to update account state")
		}
		entry.Details = auditDetails(map[string]interface{}{"from": target.Active, "to": active})
		updated, err = loadUser(ctx, tx, target.ID)
		return err
	})
	s.metrics.RecordAdminAction(models.ActionSetUserActive, err)
	if err != nil {
		return nil, err
	}
	s.cache.Evict(ctx, IdentityCacheKey(updated.RemoteID))
	return updated, nil
}

// DeleteUser removes a user and, through cascades, their ledger.
func (s *AdminService) DeleteUser(ctx context.Context, remoteID, userID string) error {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return err
	}
	if actor.ID == userID {
		return appErrors.Clone(appErrors.ErrForbidden, "admins cannot delete themselves")
	}

	var target *models.User
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionDeleteUser, TargetType: models.TargetUser, TargetID: userID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		target, err = loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Users.Delete(ctx, target.ID); err != nil {
			return appErrors.StoreUnavailable(err, "failed to delete user")
		}
		entry.Details = auditDetails(map[string]interface{}{"email": target.Email, "remote_id": target.RemoteID, "role": target.Role})
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionDeleteUser, err)
	if err != nil {
		return err
	}
	s.cache.Evict(ctx, IdentityCacheKey(target.RemoteID))
	return nil
}

// ListPendingContent returns items awaiting moderation, oldest first.
func (s *AdminService) ListPendingContent(ctx context.Context, remoteID string) ([]models.TeacherContent, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, err
	}
	items, err := s.content.ListByStatus(ctx, models.ReviewPending)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list pending content")
	}
	return items, nil
}

// ApproveContent publishes a pending item.
func (s *AdminService) ApproveContent(ctx context.Context, remoteID, contentID string, req models.ReviewRequest) (*models.TeacherContent, error) {
	return s.review(ctx, remoteID, contentID, models.ReviewApproved, models.ActionApproveContent, req)
}

// RejectContent returns a pending item to its author.
func (s *AdminService) RejectContent(ctx context.Context, remoteID, contentID string, req models.ReviewRequest) (*models.TeacherContent, error) {
	return s.review(ctx, remoteID, contentID, models.ReviewRejected, models.ActionRejectContent, req)
}

func (s *AdminService) review(ctx context.Context, remoteID, contentID string, status models.ReviewStatus, action string, req models.ReviewRequest) (*models.TeacherContent, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid review payload")
	}

	var reviewed *models.TeacherContent
	entry := &models.AdminLog{ActorID: actor.ID, Action: action, TargetType: models.TargetContent, TargetID: contentID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		content, err := loadOwnedContent(ctx, tx, actor, contentID)
		if err != nil {
			return err
		}
		if content.Status != models.ReviewPending {
			return appErrors.Clone(appErrors.ErrConflict, "only pending content can be reviewed")
		}
		if err := tx.Content.Review(ctx, content.ID, status, actor.ID, req.Notes); err != nil {
			return appErrors.StoreUnavailable(err, "failed to review content")
		}
		entry.Details = auditDetails(map[string]interface{}{"status": status, "notes": req.Notes, "author_id": content.AuthorID})
		reviewed, err = tx.Content.FindByID(ctx, content.ID)
		if err != nil {
			return appErrors.StoreUnavailable(err, "failed to reload content")
		}
		return nil
	})
	s.metrics.RecordAdminAction(action, err)
	if err != nil {
		return nil, err
	}
	return reviewed, nil
}

// GetAppSettings returns every known setting, falling back to defaults for
// keys never written.
func (s *AdminService) GetAppSettings(ctx context.Context, remoteID string) ([]models.AppSetting, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, err
	}
	rows, err := s.settings.ListByKeys(ctx, settingKeys)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list settings")
	}
	return mergeSettings(rows), nil
}

// UpdateAppSetting validates and stores a known setting.
func (s *AdminService) UpdateAppSetting(ctx context.Context, remoteID, key string, req models.UpdateAppSettingRequest) (*models.AppSetting, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid setting payload")
	}
	meta, err := lookupSetting(key)
	if err != nil {
		return nil, err
	}
	value, err := normaliseSetting(key, meta, req.Value)
	if err != nil {
		return nil, err
	}

	description := meta.Description
	setting := &models.AppSetting{Key: key, Value: value, Type: meta.Type, Description: &description, UpdatedBy: &actor.ID}
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionUpdateAppSetting, TargetType: models.TargetAppSetting, TargetID: key}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		previous := meta.Default
		prev, err := tx.Settings.Get(ctx, key)
		switch {
		case err == nil:
			previous = prev.Value
		case !errors.Is(err, sql.ErrNoRows):
			return appErrors.StoreUnavailable(err, "failed to load setting")
		}
		if err := tx.Settings.Upsert(ctx, setting); err != nil {
			return appErrors.StoreUnavailable(err, "failed to store setting")
		}
		entry.Details = auditDetails(map[string]interface{}{"from": previous, "to": value})
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionUpdateAppSetting, err)
	if err != nil {
		return nil, err
	}
	return setting, nil
}

// MaintenanceMode reports the maintenance_mode setting. Lookup failures read
// as disabled.
func (s *AdminService) MaintenanceMode(ctx context.Context) bool {
	rows, err := s.settings.ListByKeys(ctx, []string{SettingMaintenanceMode})
	if err != nil {
		s.logger.Warn("maintenance flag unavailable", zap.Error(err))
		return false
	}
	for _, row := range rows {
		if row.Key == SettingMaintenanceMode {
			return row.Value == "true"
		}
	}
	return false
}

// ListAdminLogs pages through the audit trail, newest first.
func (s *AdminService) ListAdminLogs(ctx context.Context, remoteID string, filter models.AdminLogFilter) ([]models.AdminLog, *models.Pagination, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, nil, err
	}
	logs, total, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.StoreUnavailable(err, "failed to list audit logs")
	}
	return logs, pagination(filter.Page, filter.PageSize, 50, 200, total), nil
}

// RequeueOfflineItem resets the retry counter of an unprocessed item so the
// next drain picks it up again.
func (s *AdminService) RequeueOfflineItem(ctx context.Context, remoteID, itemID string) (*models.OfflineQueueItem, error) {
	actor, err := s.admin(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	var item *models.OfflineQueueItem
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionRequeueOfflineItem, TargetType: models.TargetOfflineQueue, TargetID: itemID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		current, err := tx.Queue.FindByID(ctx, itemID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "queue item not found")
			}
			return appErrors.StoreUnavailable(err, "failed to load queue item")
		}
		if current.Processed() {
			return appErrors.Clone(appErrors.ErrConflict, "queue item already processed")
		}
		if err := tx.Queue.ResetRetries(ctx, current.ID); err != nil {
			return appErrors.StoreUnavailable(err, "failed to requeue item")
		}
		entry.Details = auditDetails(map[string]interface{}{"collection": current.Collection, "previous_retries": current.RetryCount})
		item, err = tx.Queue.FindByID(ctx, current.ID)
		if err != nil {
			return appErrors.StoreUnavailable(err, "failed to reload queue item")
		}
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionRequeueOfflineItem, err)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MigrationStatus reports applied and pending schema migrations.
func (s *AdminService) MigrationStatus(ctx context.Context, remoteID string) (*migration.Summary, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, err
	}
	if s.migrations == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "migration engine not configured")
	}
	summary, err := s.migrations.Summary(ctx)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to read migration state")
	}
	return summary, nil
}

// ListExhaustedItems returns queued writes that used up their retries.
func (s *AdminService) ListExhaustedItems(ctx context.Context, remoteID string) ([]models.OfflineQueueItem, error) {
	if _, err := s.admin(ctx, remoteID); err != nil {
		return nil, err
	}
	if s.queue == nil {
		return []models.OfflineQueueItem{}, nil
	}
	items, err := s.queue.ListExhausted(ctx)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list exhausted writes")
	}
	return items, nil
}

func loadUser(ctx context.Context, tx *repository.Tx, userID string) (*models.User, error) {
	user, err := tx.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to load user")
	}
	return user, nil
}

func pagination(page, size, defaultSize, maxSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxSize {
		size = defaultSize
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

// readAllLimited reads r up to limit bytes and fails when more remain.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, appErrors.Clone(appErrors.ErrValidation, "upload exceeds size limit")
	}
	return data, nil
}
