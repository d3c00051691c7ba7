package models

import "time"

// ContentType is the kind of authored item a teacher submits.
type ContentType string

const (
	ContentLesson      ContentType = "lesson"
	ContentQuiz        ContentType = "quiz"
	ContentTranslation ContentType = "translation"
)

// ReviewStatus is the moderation state of teacher content.
type ReviewStatus string

const (
	ReviewDraft    ReviewStatus = "draft"
	ReviewPending  ReviewStatus = "pending_review"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// TeacherContent links an authored content item to its review state.
type TeacherContent struct {
	ID          string       `db:"id" json:"id"`
	AuthorID    string       `db:"author_id" json:"author_id"`
	ContentType ContentType  `db:"content_type" json:"content_type"`
	ContentID   string       `db:"content_id" json:"content_id"`
	Title       string       `db:"title" json:"title"`
	Status      ReviewStatus `db:"status" json:"status"`
	ReviewerID  *string      `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewNotes *string      `db:"review_notes" json:"review_notes,omitempty"`
	ReviewedAt  *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// CreateContentRequest registers authored content for moderation.
type CreateContentRequest struct {
	ContentType     ContentType `json:"content_type" validate:"required,oneof=lesson quiz translation"`
	ContentID       string      `json:"content_id" validate:"required,max=120"`
	Title           string      `json:"title" validate:"required,max=200"`
	SubmitForReview bool        `json:"submit_for_review"`
}

// ReviewRequest carries moderator notes.
type ReviewRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}
