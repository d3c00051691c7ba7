package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mayegue-core/internal/migration"
	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/response"
	"github.com/noah-isme/mayegue-core/pkg/storage"
)

// AdminAPI is the privileged surface. Every method checks the caller's role.
type AdminAPI interface {
	ListUsers(ctx context.Context, remoteID string, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	UpdateUserRole(ctx context.Context, remoteID, userID string, req models.UpdateRoleRequest) (*models.User, error)
	SetUserActive(ctx context.Context, remoteID, userID string, req models.SetActiveRequest) (*models.User, error)
	DeleteUser(ctx context.Context, remoteID, userID string) error
	ListPendingContent(ctx context.Context, remoteID string) ([]models.TeacherContent, error)
	ApproveContent(ctx context.Context, remoteID, contentID string, req models.ReviewRequest) (*models.TeacherContent, error)
	RejectContent(ctx context.Context, remoteID, contentID string, req models.ReviewRequest) (*models.TeacherContent, error)
	GetAppSettings(ctx context.Context, remoteID string) ([]models.AppSetting, error)
	UpdateAppSetting(ctx context.Context, remoteID, key string, req models.UpdateAppSettingRequest) (*models.AppSetting, error)
	ListAdminLogs(ctx context.Context, remoteID string, filter models.AdminLogFilter) ([]models.AdminLog, *models.Pagination, error)
	MigrationStatus(ctx context.Context, remoteID string) (*migration.Summary, error)
	ListExhaustedItems(ctx context.Context, remoteID string) ([]models.OfflineQueueItem, error)
	RequeueOfflineItem(ctx context.Context, remoteID, itemID string) (*models.OfflineQueueItem, error)
	BackupDatabase(ctx context.Context, remoteID string) (*models.BackupResult, error)
	ListBackups(ctx context.Context, remoteID string) ([]storage.FileInfo, error)
	DownloadBackup(token string) (*os.File, string, error)
	RestoreDatabase(ctx context.Context, remoteID string, r io.Reader) (*models.RestoreResult, error)
	ExportData(ctx context.Context, remoteID, dataset, format string) (*models.ExportFile, error)
}

// AdminHandler serves the admin console endpoints.
type AdminHandler struct {
	admin      AdminAPI
	maxRestore int64
}

// NewAdminHandler constructs an admin handler. maxRestoreBytes bounds the
// restore upload.
func NewAdminHandler(admin AdminAPI, maxRestoreBytes int64) *AdminHandler {
	return &AdminHandler{admin: admin, maxRestore: maxRestoreBytes}
}

// ListUsers godoc
// @Summary List users
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param role query string false "Role filter"
// @Param active query bool false "Active filter"
// @Param search query string false "Search term"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	filter := models.UserFilter{
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if role := c.Query("role"); role != "" {
		r := models.UserRole(role)
		filter.Role = &r
	}
	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.Active = &val
		}
	}

	users, pagination, err := h.admin.ListUsers(c.Request.Context(), remoteID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// UpdateRole godoc
// @Summary Change a user's role
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.UpdateRoleRequest true "Role"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users/{id}/role [put]
func (h *AdminHandler) UpdateRole(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.UpdateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.admin.UpdateUserRole(c.Request.Context(), remoteID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// SetActive godoc
// @Summary Activate or deactivate a user
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.SetActiveRequest true "Active flag"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/active [put]
func (h *AdminHandler) SetActive(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.admin.SetUserActive(c.Request.Context(), remoteID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// DeleteUser godoc
// @Summary Delete a user
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Router /admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteUser(c.Request.Context(), remoteID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PendingContent godoc
// @Summary Content awaiting review
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/content/pending [get]
func (h *AdminHandler) PendingContent(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	items, err := h.admin.ListPendingContent(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ApproveContent godoc
// @Summary Approve pending content
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Content ID"
// @Param payload body models.ReviewRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/content/{id}/approve [post]
func (h *AdminHandler) ApproveContent(c *gin.Context) {
	h.review(c, h.admin.ApproveContent)
}

// RejectContent godoc
// @Summary Reject pending content
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Content ID"
// @Param payload body models.ReviewRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/content/{id}/reject [post]
func (h *AdminHandler) RejectContent(c *gin.Context) {
	h.review(c, h.admin.RejectContent)
}

type reviewFunc func(ctx context.Context, remoteID, contentID string, req models.ReviewRequest) (*models.TeacherContent, error)

func (h *AdminHandler) review(c *gin.Context, fn reviewFunc) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.ReviewRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	item, err := fn(c.Request.Context(), remoteID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Settings godoc
// @Summary App settings
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/settings [get]
func (h *AdminHandler) Settings(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	settings, err := h.admin.GetAppSettings(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// UpdateSetting godoc
// @Summary Update an app setting
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body models.UpdateAppSettingRequest true "Value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/settings/{key} [put]
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	var req models.UpdateAppSettingRequest
	if !bindJSON(c, &req) {
		return
	}
	setting, err := h.admin.UpdateAppSetting(c.Request.Context(), remoteID, c.Param("key"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, setting, nil)
}

// Logs godoc
// @Summary Audit trail
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param actor_id query string false "Actor filter"
// @Param action query string false "Action filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/logs [get]
func (h *AdminHandler) Logs(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	filter := models.AdminLogFilter{
		ActorID:  c.Query("actor_id"),
		Action:   c.Query("action"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}
	logs, pagination, err := h.admin.ListAdminLogs(c.Request.Context(), remoteID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Migrations godoc
// @Summary Schema migration state
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/migrations [get]
func (h *AdminHandler) Migrations(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	summary, err := h.admin.MigrationStatus(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ExhaustedQueue godoc
// @Summary Writes that exhausted their retries
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/queue/exhausted [get]
func (h *AdminHandler) ExhaustedQueue(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	items, err := h.admin.ListExhaustedItems(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Requeue godoc
// @Summary Reset the retries of a queued write
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "Queue item ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/queue/{id}/requeue [post]
func (h *AdminHandler) Requeue(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	item, err := h.admin.RequeueOfflineItem(c.Request.Context(), remoteID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Backup godoc
// @Summary Back up the local store
// @Description Writes a snapshot and returns a signed download token.
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /admin/backup [post]
func (h *AdminHandler) Backup(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	result, err := h.admin.BackupDatabase(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Backups godoc
// @Summary List stored backups
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/backups [get]
func (h *AdminHandler) Backups(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	files, err := h.admin.ListBackups(c.Request.Context(), remoteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, nil)
}

// DownloadBackup godoc
// @Summary Download a backup by signed token
// @Tags Admin
// @Produce application/json
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /admin/backups/download [get]
func (h *AdminHandler) DownloadBackup(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.admin.DownloadBackup(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.ErrInternal.Wrap(err, "failed to read backup"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/json", file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}

// Restore godoc
// @Summary Restore the local store from a snapshot
// @Description Accepts a multipart "snapshot" file or a raw JSON body.
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Accept mpfd
// @Produce json
// @Param snapshot formData file false "Snapshot file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/restore [post]
func (h *AdminHandler) Restore(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	if h.maxRestore > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRestore+1<<20)
	}

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("snapshot")
		if err != nil {
			response.Error(c, appErrors.ErrValidation.Wrap(err, "snapshot file is required"))
			return
		}
		f, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.ErrValidation.Wrap(err, "failed to open snapshot"))
			return
		}
		defer f.Close()
		body = f
	}

	result, err := h.admin.RestoreDatabase(c.Request.Context(), remoteID, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export a dataset
// @Tags Admin
// @Security BearerAuth
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param dataset query string true "users or admin_logs"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/export [get]
func (h *AdminHandler) Export(c *gin.Context) {
	remoteID, ok := callerID(c)
	if !ok {
		return
	}
	file, err := h.admin.ExportData(c.Request.Context(), remoteID, c.Query("dataset"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.FileName, file.ContentType, file.Data)
}
