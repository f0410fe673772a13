package models

import "time"

// ThesisStatus tracks a thesis through the proposal workflow.
type ThesisStatus string

const (
	ThesisStatusDraft     ThesisStatus = "draft"
	ThesisStatusSubmitted ThesisStatus = "submitted"
	ThesisStatusApproved  ThesisStatus = "approved"
	ThesisStatusRejected  ThesisStatus = "rejected"
	ThesisStatusCompleted ThesisStatus = "completed"
)

// ValidThesisStatus reports whether the given status is part of the domain.
func ValidThesisStatus(s ThesisStatus) bool {
	switch s {
	case ThesisStatusDraft, ThesisStatusSubmitted, ThesisStatusApproved, ThesisStatusRejected, ThesisStatusCompleted:
		return true
	}
	return false
}

// Thesis represents one student's final-project record. Status is a
// projection of the latest proposal action except for admin overrides.
type Thesis struct {
	ID          string       `db:"id" json:"id"`
	StudentID   string       `db:"student_id" json:"student_id"`
	AdvisorID   *string      `db:"advisor_id" json:"advisor_id,omitempty"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description"`
	Status      ThesisStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ThesisFilter narrows thesis listing by role visibility.
type ThesisFilter struct {
	StudentID string
	AdvisorID string
}
