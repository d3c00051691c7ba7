package models

import "time"

// Admin actions recorded in admin_logs.
const (
	ActionUpdateUserRole     = "update_user_role"
	ActionSetUserActive      = "set_user_active"
	ActionDeleteUser         = "delete_user"
	ActionApproveContent     = "approve_content"
	ActionRejectContent      = "reject_content"
	ActionCreateContent      = "create_content"
	ActionSubmitContent      = "submit_content"
	ActionDeleteContent      = "delete_content"
	ActionUpdateAppSetting   = "update_app_setting"
	ActionBackupDatabase     = "backup_database"
	ActionRestoreDatabase    = "restore_database"
	ActionExportData         = "export_data"
	ActionRequeueOfflineItem = "requeue_offline_item"
)

// Audit target types.
const (
	TargetUser         = "user"
	TargetContent      = "teacher_content"
	TargetAppSetting   = "app_setting"
	TargetDatabase     = "database"
	TargetOfflineQueue = "offline_queue"
)

// AdminLog is an append-only record of a privileged mutation.
type AdminLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   string    `db:"target_id" json:"target_id"`
	Details    string    `db:"details" json:"details"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AdminLogFilter scopes audit listings.
type AdminLogFilter struct {
	ActorID  string
	Action   string
	Page     int
	PageSize int
}
