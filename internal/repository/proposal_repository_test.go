package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simta-dev/simta-api/internal/models"
)

func newProposalRepoMock(t *testing.T) (*ProposalRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewProposalRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestProposalRepositoryCreate(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO proposals")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	proposal := &models.Proposal{
		ThesisID: "thesis-1",
		FilePath: "uploads/1700000000_abc.pdf",
		FileName: "proposal.pdf",
		Status:   models.ProposalStatusPending,
	}
	err := repo.Create(context.Background(), proposal)

	require.NoError(t, err)
	assert.NotEmpty(t, proposal.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalRepositoryListJoinsOwningThesis(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "thesis_id", "file_path", "file_name", "status", "review_note", "reviewer_id", "reviewed_at", "uploaded_at"}).
		AddRow("prop-1", "thesis-1", "uploads/a.pdf", "a.pdf", "pending", nil, nil, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN theses t ON t.id = p.thesis_id WHERE 1=1 AND t.advisor_id = $1 ORDER BY p.uploaded_at DESC")).
		WithArgs("advisor-1").
		WillReturnRows(rows)

	proposals, err := repo.List(context.Background(), models.ProposalFilter{AdvisorID: "advisor-1"})

	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "prop-1", proposals[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalRepositoryMarkReviewed(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	note := "looks solid"
	reviewedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE proposals SET status = $2, reviewer_id = $3, review_note = $4, reviewed_at = $5")).
		WithArgs("prop-1", models.ProposalStatusApproved, "advisor-1", &note, reviewedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkReviewed(context.Background(), "prop-1", models.ProposalStatusApproved, "advisor-1", &note, reviewedAt)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalRepositoryMarkReviewedAlreadyDecided(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	// A proposal that left pending state matches zero rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE proposals SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkReviewed(context.Background(), "prop-1", models.ProposalStatusRejected, "advisor-1", nil, time.Now().UTC())

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestProposalRepositoryCountByThesis(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM proposals WHERE thesis_id = $1")).
		WithArgs("thesis-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountByThesis(context.Background(), "thesis-1")

	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProposalRepositoryDeleteByThesisReturnsBlobPaths(t *testing.T) {
	repo, mock := newProposalRepoMock(t)

	rows := sqlmock.NewRows([]string{"file_path"}).
		AddRow("uploads/a.pdf").
		AddRow("uploads/b.pdf")

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM proposals WHERE thesis_id = $1 RETURNING file_path")).
		WithArgs("thesis-1").
		WillReturnRows(rows)

	paths, err := repo.DeleteByThesis(context.Background(), "thesis-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/a.pdf", "uploads/b.pdf"}, paths)
}
