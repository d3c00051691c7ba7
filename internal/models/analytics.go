package models

import "time"

// AnalyticsEvent is a product analytics event recorded locally.
type AnalyticsEvent struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	EventName  string    `db:"event_name" json:"event_name"`
	Properties string    `db:"properties" json:"properties"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TrackEventRequest is the client payload for an analytics event.
type TrackEventRequest struct {
	EventName  string                 `json:"event_name" validate:"required,max=100"`
	Properties map[string]interface{} `json:"properties"`
}

// EventCount aggregates events by name.
type EventCount struct {
	EventName string `db:"event_name" json:"event_name"`
	Count     int    `db:"count" json:"count"`
}
