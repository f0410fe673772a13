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

// ThesisRepository manages persistence for thesis records.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs a ThesisRepository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

const thesisColumns = `id, student_id, advisor_id, title, description, status, created_at, updated_at`

// Create inserts a new thesis record.
func (r *ThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = now
	}
	thesis.UpdatedAt = now

	const query = `INSERT INTO theses (id, student_id, advisor_id, title, description, status, created_at, updated_at)
		VALUES (:id, :student_id, :advisor_id, :title, :description, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("create thesis: %w", err)
	}
	return nil
}

// FindByID fetches a thesis by ID.
func (r *ThesisRepository) FindByID(ctx context.Context, id string) (*models.Thesis, error) {
	query := fmt.Sprintf(`SELECT %s FROM theses WHERE id = $1`, thesisColumns)
	var thesis models.Thesis
	if err := r.db.GetContext(ctx, &thesis, query, id); err != nil {
		return nil, err
	}
	return &thesis, nil
}

// List returns theses matching the visibility filter, newest first.
func (r *ThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, error) {
	base := fmt.Sprintf("SELECT %s FROM theses WHERE 1=1", thesisColumns)
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AdvisorID != "" {
		conditions = append(conditions, fmt.Sprintf("advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY created_at DESC"

	var theses []models.Thesis
	if err := r.db.SelectContext(ctx, &theses, base, args...); err != nil {
		return nil, fmt.Errorf("list theses: %w", err)
	}
	return theses, nil
}

// Update modifies an existing thesis record.
func (r *ThesisRepository) Update(ctx context.Context, thesis *models.Thesis) error {
	thesis.UpdatedAt = time.Now().UTC()
	const query = `UPDATE theses SET advisor_id = :advisor_id, title = :title, description = :description, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("update thesis: %w", err)
	}
	return nil
}

// UpdateStatus sets the status projection for a thesis.
func (r *ThesisRepository) UpdateStatus(ctx context.Context, id string, status models.ThesisStatus) error {
	const query = `UPDATE theses SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update thesis status: %w", err)
	}
	return nil
}

// Delete removes a thesis row.
func (r *ThesisRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM theses WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete thesis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check thesis delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
