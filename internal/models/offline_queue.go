package models

import "time"

// Remote write operations.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// OfflineQueueItem is a buffered remote write.
type OfflineQueueItem struct {
	ID            string     `db:"id" json:"id"`
	ActionType    string     `db:"action_type" json:"action_type"`
	Collection    string     `db:"collection" json:"collection"`
	Operation     string     `db:"operation" json:"operation"`
	DocumentID    *string    `db:"document_id" json:"document_id,omitempty"`
	Payload       string     `db:"payload" json:"payload"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	MaxRetries    int        `db:"max_retries" json:"max_retries"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	RemoteID      *string    `db:"remote_id" json:"remote_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Processed reports whether the item reached its terminal state.
func (i OfflineQueueItem) Processed() bool {
	return i.ProcessedAt != nil
}

// Exhausted reports whether the item used up its retries without success.
func (i OfflineQueueItem) Exhausted() bool {
	return !i.Processed() && i.RetryCount >= i.MaxRetries
}

// RemoteWriteRequest is the client payload for a remote write.
type RemoteWriteRequest struct {
	ActionType string                 `json:"action_type" validate:"required,max=64"`
	Collection string                 `json:"collection" validate:"required,max=64"`
	Operation  string                 `json:"operation" validate:"required,oneof=create update delete"`
	DocumentID string                 `json:"document_id" validate:"max=128"`
	Payload    map[string]interface{} `json:"payload"`
}

// QueueStats counts items per state.
type QueueStats struct {
	Pending   int `db:"pending" json:"pending"`
	Processed int `db:"processed" json:"processed"`
	Exhausted int `db:"exhausted" json:"exhausted"`
}

// SubmitResult reports whether a write reached the remote store directly or
// was buffered for a later drain.
type SubmitResult struct {
	Queued   bool   `json:"queued"`
	ItemID   string `json:"item_id,omitempty"`
	RemoteID string `json:"remote_id,omitempty"`
}

// DrainResult counts the outcomes of one drain pass.
type DrainResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}
