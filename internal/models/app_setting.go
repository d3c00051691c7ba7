package models

import "time"

// SettingType defines how an app setting value is validated.
type SettingType string

const (
	SettingTypeString  SettingType = "string"
	SettingTypeBoolean SettingType = "boolean"
	SettingTypeInteger SettingType = "integer"
)

// AppSetting is a persisted key/value setting.
type AppSetting struct {
	Key         string      `db:"key" json:"key"`
	Value       string      `db:"value" json:"value"`
	Type        SettingType `db:"type" json:"type"`
	Description *string     `db:"description" json:"description,omitempty"`
	UpdatedBy   *string     `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// UpdateAppSettingRequest is the admin payload for a setting change.
type UpdateAppSettingRequest struct {
	Value string `json:"value" validate:"max=500"`
}
