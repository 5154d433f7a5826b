// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ScheduleRequest describes a notification to persist and arm.
type ScheduleRequest struct {
	Type      notification.Type
	Title     string
	Message   string
	Recipient recipient.Ref
	// ScheduledFor may be in the past; such notifications fire immediately.
	ScheduledFor        time.Time
	Metadata            map[string]string
	GuardStatusRecordID *string
}

// NotificationService schedules, cancels and rehydrates deferred
// notifications. Delivery itself happens in Dispatcher.
type NotificationService struct {
	repo       notification.Repository
	resolver   *RecipientResolver
	guards     GuardChecker
	timers     Timer
	dispatcher *Dispatcher
	clock      func() time.Time
	logger     *logrus.Entry
	metrics    *metrics.Metrics
}

type NotificationServiceOption func(*NotificationService)

func WithServiceClock(clock func() time.Time) NotificationServiceOption {
	return func(s *NotificationService) { s.clock = clock }
}

func WithServiceMetrics(m *metrics.Metrics) NotificationServiceOption {
	return func(s *NotificationService) { s.metrics = m }
}

func NewNotificationService(
	repo notification.Repository,
	resolver *RecipientResolver,
	guards GuardChecker,
	timers Timer,
	dispatcher *Dispatcher,
	logger *logrus.Entry,
	opts ...NotificationServiceOption,
) *NotificationService {
	s := &NotificationService{
		repo:       repo,
		resolver:   resolver,
		guards:     guards,
		timers:     timers,
		dispatcher: dispatcher,
		clock:      time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule validates and resolves the request, persists a PENDING
// notification and arms its timer. Nothing is persisted on error.
func (s *NotificationService) Schedule(ctx context.Context, req ScheduleRequest) (*notification.Notification, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("notification type %q: %w", req.Type, sentinel.ErrInvalidRequest)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("notification title is required: %w", sentinel.ErrInvalidRequest)
	}
	if req.ScheduledFor.IsZero() {
		return nil, fmt.Errorf("scheduled time is required: %w", sentinel.ErrInvalidRequest)
	}

	addr, err := s.resolver.Resolve(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}

	if req.GuardStatusRecordID != nil {
		if _, err := s.guards.IsCurrent(ctx, *req.GuardStatusRecordID); err != nil {
			return nil, fmt.Errorf("guard status record %s: %w", *req.GuardStatusRecordID, err)
		}
	}

	now := s.clock()
	n := &notification.Notification{
		ID:                  uuid.NewString(),
		Type:                req.Type,
		Status:              notification.StatusPending,
		Title:               title,
		Message:             req.Message,
		RecipientCategory:   req.Recipient.Category(),
		RecipientRef:        addr.ID,
		RecipientEmail:      addr.Email,
		RecipientName:       addr.Name,
		ScheduledFor:        req.ScheduledFor,
		Metadata:            copyMetadata(req.Metadata),
		GuardStatusRecordID: req.GuardStatusRecordID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	s.timers.Arm(n.ID, n.ScheduledFor)
	s.metrics.IncScheduled(string(n.Type))
	s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
		"recipient":       n.RecipientCategory,
		"scheduled_for":   n.ScheduledFor,
	}).Info("Notification scheduled.")
	return n, nil
}

// Cancel disarms the timer and moves a PENDING notification to CANCELLED.
// Cancelling a settled notification is a no-op.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	unlock := s.dispatcher.locks.Lock(id)
	defer unlock()

	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.timers.Disarm(id)
	if n.Status != notification.StatusPending {
		return nil
	}

	if err := s.repo.MarkCancelled(ctx, id, nil, s.clock()); err != nil {
		if errors.Is(err, notification.ErrNotPending) {
			return nil
		}
		return fmt.Errorf("failed to cancel notification %s: %w", id, err)
	}
	s.metrics.IncCancellation("caller")
	s.logger.WithField("notification_id", id).Info("Notification cancelled.")
	return nil
}

// Rehydrate arms a timer for every PENDING notification and returns how many
// it armed. Past-due ones fire right away.
func (s *NotificationService) Rehydrate(ctx context.Context) (int, error) {
	pending, err := s.repo.ListByStatus(ctx, notification.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	for _, n := range pending {
		s.timers.Arm(n.ID, n.ScheduledFor)
	}
	s.logger.WithField("armed", len(pending)).Info("Pending notifications rehydrated.")
	return len(pending), nil
}

func (s *NotificationService) Get(ctx context.Context, id string) (*notification.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter notification.Filter) ([]*notification.Notification, error) {
	return s.repo.List(ctx, filter)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
