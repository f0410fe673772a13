package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/simta-dev/simta-api/internal/models"
)

// ProposalRepository manages persistence for proposal documents.
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository constructs a ProposalRepository.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

const proposalColumns = `p.id, p.thesis_id, p.file_path, p.file_name, p.status, p.review_note, p.reviewer_id, p.reviewed_at, p.uploaded_at`

// Create inserts a new proposal record in pending state.
func (r *ProposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}
	if proposal.UploadedAt.IsZero() {
		proposal.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO proposals (id, thesis_id, file_path, file_name, status, review_note, reviewer_id, reviewed_at, uploaded_at)
		VALUES (:id, :thesis_id, :file_path, :file_name, :status, :review_note, :reviewer_id, :reviewed_at, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, proposal); err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// FindByID fetches a proposal by ID.
func (r *ProposalRepository) FindByID(ctx context.Context, id string) (*models.Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals p WHERE p.id = $1`, proposalColumns)
	var proposal models.Proposal
	if err := r.db.GetContext(ctx, &proposal, query, id); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// List returns proposals visible through the filter, newest upload first.
// Student and advisor visibility is resolved through the owning thesis.
func (r *ProposalRepository) List(ctx context.Context, filter models.ProposalFilter) ([]models.Proposal, error) {
	base := fmt.Sprintf("SELECT %s FROM proposals p JOIN theses t ON t.id = p.thesis_id WHERE 1=1", proposalColumns)
	var conditions []string
	var args []interface{}

	if filter.ThesisID != "" {
		conditions = append(conditions, fmt.Sprintf("p.thesis_id = $%d", len(args)+1))
		args = append(args, filter.ThesisID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("t.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AdvisorID != "" {
		conditions = append(conditions, fmt.Sprintf("t.advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY p.uploaded_at DESC"

	var proposals []models.Proposal
	if err := r.db.SelectContext(ctx, &proposals, base, args...); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// MarkReviewed applies a review decision as a single conditional write.
// The status precondition rides on the UPDATE itself so two concurrent
// reviews cannot both succeed; the loser sees sql.ErrNoRows.
func (r *ProposalRepository) MarkReviewed(ctx context.Context, id string, status models.ProposalStatus, reviewerID string, note *string, reviewedAt time.Time) error {
	const query = `UPDATE proposals SET status = $2, reviewer_id = $3, review_note = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewerID, note, reviewedAt)
	if err != nil {
		return fmt.Errorf("mark proposal reviewed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check proposal review rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByThesis returns how many proposals remain under a thesis.
func (r *ProposalRepository) CountByThesis(ctx context.Context, thesisID string) (int, error) {
	const query = `SELECT COUNT(*) FROM proposals WHERE thesis_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, thesisID); err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return count, nil
}

// Delete removes a proposal row.
func (r *ProposalRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM proposals WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check proposal delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByThesis removes all proposals under a thesis and returns the blob
// paths that backed them so callers can clean up storage.
func (r *ProposalRepository) DeleteByThesis(ctx context.Context, thesisID string) ([]string, error) {
	const query = `DELETE FROM proposals WHERE thesis_id = $1 RETURNING file_path`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, thesisID); err != nil {
		return nil, fmt.Errorf("delete proposals by thesis: %w", err)
	}
	return paths, nil
}
