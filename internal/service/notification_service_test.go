package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simta-dev/simta-api/internal/models"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/jobs"
)

type notificationRepoStub struct {
	mu            sync.Mutex
	notifications map[string]*models.Notification
}

func newNotificationRepoStub() *notificationRepoStub {
	return &notificationRepoStub{notifications: make(map[string]*models.Notification)}
}

func (r *notificationRepoStub) Create(ctx context.Context, notification *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification.ID == "" {
		notification.ID = fmt.Sprintf("notif-%d", len(r.notifications)+1)
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	stored := *notification
	r.notifications[notification.ID] = &stored
	return nil
}

func (r *notificationRepoStub) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []models.Notification
	for _, notification := range r.notifications {
		if notification.UserID != filter.UserID {
			continue
		}
		if filter.IsRead != nil && notification.IsRead != *filter.IsRead {
			continue
		}
		result = append(result, *notification)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *notificationRepoStub) CountUnread(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, notification := range r.notifications {
		if notification.UserID == userID && !notification.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepoStub) FindByIDAndUser(ctx context.Context, id, userID string) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification, ok := r.notifications[id]; ok && notification.UserID == userID {
		copy := *notification
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *notificationRepoStub) MarkRead(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification, ok := r.notifications[id]; ok && notification.UserID == userID {
		notification.IsRead = true
	}
	return nil
}

func (r *notificationRepoStub) MarkAllRead(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, notification := range r.notifications {
		if notification.UserID == userID {
			notification.IsRead = true
		}
	}
	return nil
}

func (r *notificationRepoStub) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification, ok := r.notifications[id]; ok && notification.UserID == userID {
		delete(r.notifications, id)
		return nil
	}
	return sql.ErrNoRows
}

func testNotificationService(t *testing.T, repo *notificationRepoStub) *NotificationService {
	t.Helper()
	svc := NewNotificationService(repo, nil, nil, nil, NotificationServiceConfig{
		PageLimit:   3,
		QueueConfig: jobs.QueueConfig{Workers: 1},
	})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func TestNotificationServicePublishDelivers(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	svc.Publish(models.NotificationEvent{
		UserID:  "student-1",
		Title:   "Proposal Approved",
		Message: "Selamat, proposal Anda disetujui.",
		Type:    models.NotificationTypeProposalReviewed,
		Data:    map[string]interface{}{"proposal_id": "prop-1"},
	})

	require.Eventually(t, func() bool {
		count, _ := repo.CountUnread(context.Background(), "student-1")
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNotificationServiceDeliveryRecordsMetric(t *testing.T) {
	repo := newNotificationRepoStub()
	metrics := NewMetricsService()
	svc := NewNotificationService(repo, nil, metrics, nil, NotificationServiceConfig{
		QueueConfig: jobs.QueueConfig{Workers: 1},
	})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)

	svc.Publish(models.NotificationEvent{
		UserID: "student-1",
		Title:  "Proposal Rejected",
		Type:   models.NotificationTypeProposalReviewed,
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.deliveredTotal) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNotificationServiceListCapsPageAndCountsAllUnread(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(context.Background(), &models.Notification{
			UserID:    "student-1",
			Title:     fmt.Sprintf("pesan %d", i),
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := svc.List(context.Background(), studentClaims("student-1"), nil)

	require.NoError(t, err)
	// The page is capped but the unread count reflects everything.
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 5, page.UnreadCount)
}

func TestNotificationServiceListEmptyMailbox(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	page, err := svc.List(context.Background(), studentClaims("student-1"), nil)

	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.UnreadCount)
}

func TestNotificationServiceMarkAllReadIdempotent(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	require.NoError(t, repo.Create(context.Background(), &models.Notification{UserID: "student-1"}))

	require.NoError(t, svc.MarkAllRead(context.Background(), studentClaims("student-1")))
	require.NoError(t, svc.MarkAllRead(context.Background(), studentClaims("student-1")))

	count, err := repo.CountUnread(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotificationServiceMarkReadForeignNotification(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	require.NoError(t, repo.Create(context.Background(), &models.Notification{ID: "notif-1", UserID: "owner"}))

	err := svc.MarkRead(context.Background(), "notif-1", studentClaims("intruder"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestNotificationServiceDeleteMissing(t *testing.T) {
	repo := newNotificationRepoStub()
	svc := testNotificationService(t, repo)

	err := svc.Delete(context.Background(), "does-not-exist", studentClaims("student-1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
