package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simta-dev/simta-api/internal/models"
	appErrors "github.com/simta-dev/simta-api/pkg/errors"
	"github.com/simta-dev/simta-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	FindByIDAndUser(ctx context.Context, id, userID string) (*models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, id, userID string) error
}

type unreadCountCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NotificationPage is one mailbox page plus the true unread total.
type NotificationPage struct {
	Items       []models.Notification `json:"items"`
	UnreadCount int                   `json:"unread_count"`
}

// NotificationServiceConfig tunes mailbox paging and cache behaviour.
type NotificationServiceConfig struct {
	PageLimit      int
	UnreadCacheTTL time.Duration
	QueueConfig    jobs.QueueConfig
}

// NotificationService owns the per-user mailbox and delivers workflow
// events asynchronously through a background queue. Delivery failures are
// logged and retried but never surface to the emitting workflow.
type NotificationService struct {
	repo    notificationStore
	cache   unreadCountCache
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	cfg     NotificationServiceConfig
}

// NewNotificationService constructs the service and its delivery queue.
// Call Start before publishing events.
func NewNotificationService(repo notificationStore, cache unreadCountCache, metrics *MetricsService, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	if cfg.UnreadCacheTTL <= 0 {
		cfg.UnreadCacheTTL = 5 * time.Minute
	}
	if cfg.QueueConfig.Logger == nil {
		cfg.QueueConfig.Logger = logger
	}
	s := &NotificationService{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
	s.queue = jobs.NewQueue("notifications", s.deliver, cfg.QueueConfig)
	return s
}

// Start spins up the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues a workflow event for asynchronous delivery. A full or
// stopped queue is logged and dropped; the caller never sees an error.
func (s *NotificationService) Publish(event models.NotificationEvent) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    event.Type,
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("user_id", event.UserID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// List returns one mailbox page plus the unread total. The unread total is
// served from cache when fresh and counted from the database otherwise.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, isRead *bool) (*NotificationPage, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	items, err := s.repo.List(ctx, models.NotificationFilter{
		UserID: actor.UserID,
		IsRead: isRead,
		Limit:  s.cfg.PageLimit,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	unread, err := s.unreadCount(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &NotificationPage{Items: items, UnreadCount: unread}, nil
}

// UnreadCount returns the caller's unread total, cache first.
func (s *NotificationService) UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error) {
	if actor == nil {
		return 0, appErrors.ErrUnauthorized
	}
	return s.unreadCount(ctx, actor.UserID)
}

// MarkRead marks one owned notification as read. Re-marking is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if _, err := s.repo.FindByIDAndUser(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if err := s.repo.MarkRead(ctx, id, actor.UserID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	s.invalidateUnread(ctx, actor.UserID)
	return nil
}

// MarkAllRead marks the whole mailbox read. Safe to repeat.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkAllRead(ctx, actor.UserID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.invalidateUnread(ctx, actor.UserID)
	return nil
}

// Delete removes one owned notification.
func (s *NotificationService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.Delete(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	s.invalidateUnread(ctx, actor.UserID)
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		s.logger.Error("dropping notification job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	var data json.RawMessage
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			s.logger.Warn("failed to encode notification data", zap.Error(err))
		} else {
			data = encoded
		}
	}

	notification := &models.Notification{
		UserID:  event.UserID,
		Title:   event.Title,
		Message: event.Message,
		Type:    event.Type,
		Data:    data,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	s.metrics.RecordNotificationDelivered()
	s.invalidateUnread(ctx, event.UserID)
	return nil
}

func (s *NotificationService) unreadCount(ctx context.Context, userID string) (int, error) {
	key := unreadCacheKey(userID)
	if s.cache != nil {
		var cached int
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("unread count cache read failed", zap.Error(err))
		}
	}

	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, s.cfg.UnreadCacheTTL); err != nil {
			s.logger.Warn("unread count cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

func (s *NotificationService) invalidateUnread(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, unreadCacheKey(userID)); err != nil {
		s.logger.Warn("unread count cache invalidation failed", zap.Error(err))
	}
}

func unreadCacheKey(userID string) string {
	return fmt.Sprintf("notifications:unread:%s", userID)
}
