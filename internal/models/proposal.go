package models

import "time"

// ProposalStatus tracks the review state of one submitted document.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// Proposal represents one submitted document version for a thesis.
// FilePath is written once at upload and never overwritten.
type Proposal struct {
	ID         string         `db:"id" json:"id"`
	ThesisID   string         `db:"thesis_id" json:"thesis_id"`
	FilePath   string         `db:"file_path" json:"file_path"`
	FileName   string         `db:"file_name" json:"file_name"`
	Status     ProposalStatus `db:"status" json:"status"`
	ReviewNote *string        `db:"review_note" json:"review_note,omitempty"`
	ReviewerID *string        `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewedAt *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	UploadedAt time.Time      `db:"uploaded_at" json:"uploaded_at"`
}

// ProposalFilter narrows proposal listing.
type ProposalFilter struct {
	ThesisID  string
	StudentID string
	AdvisorID string
}
