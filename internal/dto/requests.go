package dto

import "github.com/simta-dev/simta-api/internal/models"

// CreateThesisRequest starts a new thesis record in draft state.
type CreateThesisRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=2000"`
	AdvisorID   *string `json:"advisor_id" validate:"omitempty,uuid4"`
}

// UpdateThesisRequest modifies thesis metadata. Nil fields are left untouched.
type UpdateThesisRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	AdvisorID   *string `json:"advisor_id" validate:"omitempty,uuid4"`
}

// UpdateThesisStatusRequest is the administrative status override payload.
type UpdateThesisStatusRequest struct {
	Status models.ThesisStatus `json:"status" validate:"required"`
}

// UploadProposalRequest submits a new proposal document for review.
// FileData carries the document as a base64 data URI or raw base64 string.
type UploadProposalRequest struct {
	ThesisID string `json:"thesis_id" validate:"required"`
	FileName string `json:"file_name" validate:"required,max=255"`
	FileData string `json:"file_data" validate:"required"`
}

// ReviewProposalRequest carries the optional reviewer note for a decision.
type ReviewProposalRequest struct {
	Note *string `json:"note" validate:"omitempty,max=2000"`
}

// ReviewProposalDecisionRequest is the wire payload of the review endpoint.
// Status selects the decision; only approved and rejected are accepted.
type ReviewProposalDecisionRequest struct {
	Status models.ProposalStatus `json:"status"`
	Note   *string               `json:"note"`
}

// UpdateUserRequest is the administrative user edit payload. Nil fields are
// left untouched.
type UpdateUserRequest struct {
	Email         *string          `json:"email" validate:"omitempty,email"`
	FullName      *string          `json:"full_name" validate:"omitempty,max=255"`
	Role          *models.UserRole `json:"role" validate:"omitempty,oneof=student advisor admin"`
	StudentNumber *string          `json:"student_number" validate:"omitempty,max=50"`
	StaffNumber   *string          `json:"staff_number" validate:"omitempty,max=50"`
	Active        *bool            `json:"active"`
}
