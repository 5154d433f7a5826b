// internal/domain/notification/repository.go
package notification

import (
	"context"
	"fmt"
	"time"

	"research_workflow_engine/internal/domain/sentinel"
)

var (
	ErrNotFound = fmt.Errorf("notification %w", sentinel.ErrNotFound)
	// ErrNotPending is returned by conditional transitions that lost the race:
	// the row left PENDING, or its retry count moved past the expected value.
	ErrNotPending = fmt.Errorf("notification is no longer pending at the expected attempt: %w", sentinel.ErrConflict)
)

// Repository persists notifications. Every state change is a conditional
// write guarded by status = PENDING, so cancel and fire cannot both win.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	ListByStatus(ctx context.Context, status Status) ([]*Notification, error)
	List(ctx context.Context, filter Filter) ([]*Notification, error)

	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	// MarkCancelled sets CANCELLED. reason may be nil for caller-initiated cancels.
	MarkCancelled(ctx context.Context, id string, reason *string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error
	// RecordRetry increments retry_count and moves scheduled_for in one write,
	// only when retry_count still equals expectedRetryCount.
	RecordRetry(ctx context.Context, id string, expectedRetryCount int, nextAt time.Time, lastError string, at time.Time) error
}
