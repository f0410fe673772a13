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

func newThesisRepoMock(t *testing.T) (*ThesisRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewThesisRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestThesisRepositoryCreate(t *testing.T) {
	repo, mock := newThesisRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO theses")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	thesis := &models.Thesis{
		StudentID: "student-1",
		Title:     "Deteksi Anomali Jaringan",
		Status:    models.ThesisStatusDraft,
	}
	err := repo.Create(context.Background(), thesis)

	require.NoError(t, err)
	assert.NotEmpty(t, thesis.ID)
	assert.False(t, thesis.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryFindByIDNotFound(t *testing.T) {
	repo, mock := newThesisRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, advisor_id, title, description, status, created_at, updated_at FROM theses WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	thesis, err := repo.FindByID(context.Background(), "missing")

	assert.Nil(t, thesis)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestThesisRepositoryListFiltersByStudent(t *testing.T) {
	repo, mock := newThesisRepoMock(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "advisor_id", "title", "description", "status", "created_at", "updated_at"}).
		AddRow("thesis-1", "student-1", nil, "Judul", "", "draft", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM theses WHERE 1=1 AND student_id = $1 ORDER BY created_at DESC")).
		WithArgs("student-1").
		WillReturnRows(rows)

	theses, err := repo.List(context.Background(), models.ThesisFilter{StudentID: "student-1"})

	require.NoError(t, err)
	require.Len(t, theses, 1)
	assert.Equal(t, "thesis-1", theses[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryUpdateStatus(t *testing.T) {
	repo, mock := newThesisRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE theses SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("thesis-1", models.ThesisStatusSubmitted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "thesis-1", models.ThesisStatusSubmitted)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryDeleteMissing(t *testing.T) {
	repo, mock := newThesisRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM theses WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}
