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

func newNotificationRepoMock(t *testing.T) (*NotificationRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewNotificationRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestNotificationRepositoryListDefaultsLimit(t *testing.T) {
	repo, mock := newNotificationRepoMock(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "message", "type", "data", "is_read", "created_at"}).
		AddRow("notif-1", "user-1", "Proposal Approved", "ok", "proposal_reviewed", []byte(`{}`), false, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT 50")).
		WithArgs("user-1").
		WillReturnRows(rows)

	notifications, err := repo.List(context.Background(), models.NotificationFilter{UserID: "user-1"})

	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "notif-1", notifications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryCountUnread(t *testing.T) {
	repo, mock := newNotificationRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountUnread(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestNotificationRepositoryMarkReadIdempotent(t *testing.T) {
	repo, mock := newNotificationRepoMock(t)

	// Marking an already read row matches zero rows but is not an error.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("notif-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "notif-1", "user-1")

	assert.NoError(t, err)
}

func TestNotificationRepositoryDeleteScopedToOwner(t *testing.T) {
	repo, mock := newNotificationRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE id = $1 AND user_id = $2")).
		WithArgs("notif-1", "other-user").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "notif-1", "other-user")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}
