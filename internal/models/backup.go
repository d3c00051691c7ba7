package models

import "time"

// BackupResult describes a stored snapshot and its download token.
type BackupResult struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	RowCount  int       `json:"row_count"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RestoreResult summarises an applied snapshot.
type RestoreResult struct {
	SchemaVersion string         `json:"schema_version"`
	ExportedAt    time.Time      `json:"exported_at"`
	Tables        map[string]int `json:"tables"`
}

// ExportFile is a rendered admin export.
type ExportFile struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}
