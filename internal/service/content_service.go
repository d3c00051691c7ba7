package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	"github.com/noah-isme/mayegue-core/pkg/database"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type auditRunner interface {
	Audited(ctx context.Context, entry *models.AdminLog, fn func(tx *repository.Tx) error) error
}

type contentReader interface {
	ListByAuthor(ctx context.Context, authorID string) ([]models.TeacherContent, error)
}

// ContentService lets teachers register authored content and move it into
// moderation. Approval and rejection live in AdminService.
type ContentService struct {
	tx        auditRunner
	users     progressUserReader
	content   contentReader
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContentService constructs a ContentService.
func NewContentService(tx auditRunner, users progressUserReader, content contentReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ContentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ContentService{tx: tx, users: users, content: content, metrics: metrics, validator: validate, logger: logger}
}

// CreateContent registers a draft, or a pending item when SubmitForReview is
// set. Teachers and admins only.
func (s *ContentService) CreateContent(ctx context.Context, remoteID string, req models.CreateContentRequest) (*models.TeacherContent, error) {
	actor, err := authorize(ctx, s.users, remoteID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid content payload")
	}

	content := &models.TeacherContent{
		AuthorID:    actor.ID,
		ContentType: req.ContentType,
		ContentID:   req.ContentID,
		Title:       req.Title,
		Status:      models.ReviewDraft,
	}
	if req.SubmitForReview {
		content.Status = models.ReviewPending
	}

	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionCreateContent, TargetType: models.TargetContent}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		if err := tx.Content.Create(ctx, content); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Clone(appErrors.ErrConflict, "content item already registered")
			}
			return appErrors.StoreUnavailable(err, "failed to create content")
		}
		entry.TargetID = content.ID
		entry.Details = auditDetails(map[string]interface{}{"content_type": content.ContentType, "content_id": content.ContentID, "status": content.Status})
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionCreateContent, err)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// SubmitContentForReview moves a draft or rejected item to pending_review.
// Only the author or an admin may submit.
func (s *ContentService) SubmitContentForReview(ctx context.Context, remoteID, contentID string) (*models.TeacherContent, error) {
	actor, err := authorize(ctx, s.users, remoteID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	var updated *models.TeacherContent
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionSubmitContent, TargetType: models.TargetContent, TargetID: contentID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		content, err := loadOwnedContent(ctx, tx, actor, contentID)
		if err != nil {
			return err
		}
		if content.Status != models.ReviewDraft && content.Status != models.ReviewRejected {
			return appErrors.Clone(appErrors.ErrConflict, "only draft or rejected content can be submitted")
		}
		if err := tx.Content.UpdateStatus(ctx, content.ID, models.ReviewPending); err != nil {
			return appErrors.StoreUnavailable(err, "failed to submit content")
		}
		entry.Details = auditDetails(map[string]interface{}{"from": content.Status, "to": models.ReviewPending})
		updated, err = tx.Content.FindByID(ctx, content.ID)
		if err != nil {
			return appErrors.StoreUnavailable(err, "failed to reload content")
		}
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionSubmitContent, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteContent removes an item. Only the author or an admin may delete.
func (s *ContentService) DeleteContent(ctx context.Context, remoteID, contentID string) error {
	actor, err := authorize(ctx, s.users, remoteID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return err
	}
	entry := &models.AdminLog{ActorID: actor.ID, Action: models.ActionDeleteContent, TargetType: models.TargetContent, TargetID: contentID}
	err = s.tx.Audited(ctx, entry, func(tx *repository.Tx) error {
		content, err := loadOwnedContent(ctx, tx, actor, contentID)
		if err != nil {
			return err
		}
		if err := tx.Content.Delete(ctx, content.ID); err != nil {
			return appErrors.StoreUnavailable(err, "failed to delete content")
		}
		entry.Details = auditDetails(map[string]interface{}{"content_type": content.ContentType, "content_id": content.ContentID, "author_id": content.AuthorID})
		return nil
	})
	s.metrics.RecordAdminAction(models.ActionDeleteContent, err)
	return err
}

// ListMine returns the caller's authored items.
func (s *ContentService) ListMine(ctx context.Context, remoteID string) ([]models.TeacherContent, error) {
	actor, err := authorize(ctx, s.users, remoteID, models.RoleTeacher, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	items, err := s.content.ListByAuthor(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list content")
	}
	return items, nil
}

func loadOwnedContent(ctx context.Context, tx *repository.Tx, actor *models.User, contentID string) (*models.TeacherContent, error) {
	content, err := tx.Content.FindByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "content not found")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to load content")
	}
	if content.AuthorID != actor.ID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "content belongs to another author")
	}
	return content, nil
}

// authorize resolves the caller and checks the role set before any write.
func authorize(ctx context.Context, users progressUserReader, remoteID string, roles ...models.UserRole) (*models.User, error) {
	actor, err := activeUser(ctx, users, remoteID)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(roles...) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient role for this action")
	}
	return actor, nil
}

func auditDetails(fields map[string]interface{}) string {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
