package models

import "time"

// MigrationRecord is one row of the migrations table.
type MigrationRecord struct {
	Version         string    `db:"version" json:"version"`
	Description     string    `db:"description" json:"description"`
	Checksum        string    `db:"checksum" json:"checksum"`
	AppliedAt       time.Time `db:"applied_at" json:"applied_at"`
	ExecutionTimeMS int64     `db:"execution_time_ms" json:"execution_time_ms"`
}
