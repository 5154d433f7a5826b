package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"research_workflow_engine/internal/domain/notification"
)

// NotificationStore is an in-memory notification.Repository.
type NotificationStore struct {
	mu    sync.Mutex
	items map[string]*notification.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{items: map[string]*notification.Notification{}}
}

func (s *NotificationStore) Create(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = n.Clone()
	return nil
}

func (s *NotificationStore) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *NotificationStore) ListByStatus(ctx context.Context, st notification.Status) ([]*notification.Notification, error) {
	return s.List(ctx, notification.Filter{Status: st})
}

func (s *NotificationStore) List(_ context.Context, filter notification.Filter) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Notification
	for _, n := range s.items {
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.RecipientCategory != "" && n.RecipientCategory != filter.RecipientCategory {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *NotificationStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	return s.update(id, -1, func(n *notification.Notification) {
		n.Status = notification.StatusSent
		at := sentAt
		n.SentAt = &at
		n.UpdatedAt = sentAt
	})
}

func (s *NotificationStore) MarkCancelled(_ context.Context, id string, reason *string, at time.Time) error {
	return s.update(id, -1, func(n *notification.Notification) {
		n.Status = notification.StatusCancelled
		if reason != nil {
			r := *reason
			n.LastError = &r
		}
		n.UpdatedAt = at
	})
}

func (s *NotificationStore) MarkFailed(_ context.Context, id string, lastError string, at time.Time) error {
	return s.update(id, -1, func(n *notification.Notification) {
		n.Status = notification.StatusFailed
		n.LastError = &lastError
		n.UpdatedAt = at
	})
}

func (s *NotificationStore) RecordRetry(_ context.Context, id string, expectedRetryCount int, nextAt time.Time, lastError string, at time.Time) error {
	return s.update(id, expectedRetryCount, func(n *notification.Notification) {
		n.RetryCount++
		n.ScheduledFor = nextAt
		n.LastError = &lastError
		n.UpdatedAt = at
	})
}

// update applies fn only while the notification is PENDING and, when
// expectedRetryCount is non-negative, its retry count matches.
func (s *NotificationStore) update(id string, expectedRetryCount int, fn func(*notification.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return notification.ErrNotFound
	}
	if n.Status != notification.StatusPending {
		return notification.ErrNotPending
	}
	if expectedRetryCount >= 0 && n.RetryCount != expectedRetryCount {
		return notification.ErrNotPending
	}
	fn(n)
	return nil
}
