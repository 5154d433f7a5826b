package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"research_workflow_engine/internal/domain/delivery"
	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/infra/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Timer arms and disarms per-notification deadlines.
type Timer interface {
	Arm(id string, at time.Time)
	Disarm(id string)
}

// GuardChecker reports whether a status record is still current.
type GuardChecker interface {
	IsCurrent(ctx context.Context, recordID string) (bool, error)
}

// Alerter notifies an operator about notifications that exhausted retries.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

const defaultSendTimeout = 30 * time.Second

// Dispatcher delivers a notification when its timer fires. It shares a
// per-notification lock with NotificationService.Cancel so a fire and a
// cancel of the same id never interleave. Fires of different ids never
// contend.
type Dispatcher struct {
	repo        notification.Repository
	guards      GuardChecker
	gateway     delivery.Gateway
	timers      Timer
	locks       *keyedLock
	policy      RetryPolicy
	limiter     *rate.Limiter
	alerter     Alerter
	sendTimeout time.Duration
	clock       func() time.Time
	logger      *logrus.Entry
	metrics     *metrics.Metrics
}

type DispatcherOption func(*Dispatcher)

func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithSendRate caps transport calls per second across all notifications.
func WithSendRate(perSecond float64) DispatcherOption {
	return func(d *Dispatcher) {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithAlerter(a Alerter) DispatcherOption {
	return func(d *Dispatcher) { d.alerter = a }
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

func WithDispatcherClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(
	repo notification.Repository,
	guards GuardChecker,
	gateway delivery.Gateway,
	timers Timer,
	logger *logrus.Entry,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		repo:        repo,
		guards:      guards,
		gateway:     gateway,
		timers:      timers,
		locks:       newKeyedLock(),
		policy:      DefaultRetryPolicy(),
		limiter:     rate.NewLimiter(rate.Inf, 1),
		sendTimeout: defaultSendTimeout,
		clock:       time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fire runs one delivery attempt for id. Failures are recorded on the
// notification and never returned.
func (d *Dispatcher) Fire(ctx context.Context, id string) {
	log := d.logger.WithField("notification_id", id)

	// Throttle outside the per-id lock.
	if err := d.limiter.Wait(ctx); err != nil {
		log.WithError(err).Debug("Dispatch interrupted while rate limited.")
		return
	}

	unlock := d.locks.Lock(id)
	defer unlock()

	n, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			log.Warn("Timer fired for unknown notification.")
			return
		}
		log.WithError(err).Error("Failed to load notification; leaving it for the rehydrate sweep.")
		return
	}
	if n.Status != notification.StatusPending {
		log.WithField("status", n.Status).Debug("Notification already settled, skipping.")
		return
	}

	// Timers may fire slightly early; never send before the scheduled time.
	if d.clock().Before(n.ScheduledFor) {
		d.timers.Arm(n.ID, n.ScheduledFor)
		return
	}

	if n.GuardStatusRecordID != nil {
		current, err := d.guards.IsCurrent(ctx, *n.GuardStatusRecordID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			current = false
		case err != nil:
			d.handleFailure(ctx, n, fmt.Errorf("check guard status: %w", err), log)
			return
		}
		if !current {
			d.cancelForGuard(ctx, n, log)
			return
		}
	}

	msg, err := renderMessage(n)
	if err != nil {
		d.markFailed(ctx, n, fmt.Sprintf("render: %v", err), log)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	receipt, err := d.gateway.Send(sendCtx, msg)
	cancel()
	if err != nil {
		d.handleFailure(ctx, n, err, log)
		return
	}

	if err := d.repo.MarkSent(ctx, n.ID, d.clock()); err != nil {
		// The message went out; a lost conditional write here means a
		// concurrent cancel won after the send.
		log.WithError(err).WithField("message_id", receipt.MessageID).Error("Delivered but failed to mark notification SENT.")
		return
	}
	d.metrics.IncDelivery("sent")
	log.WithFields(logrus.Fields{
		"message_id":  receipt.MessageID,
		"retry_count": n.RetryCount,
	}).Info("Notification sent.")
}

func (d *Dispatcher) cancelForGuard(ctx context.Context, n *notification.Notification, log *logrus.Entry) {
	reason := notification.GuardCancelReason
	err := d.repo.MarkCancelled(ctx, n.ID, &reason, d.clock())
	if err != nil {
		if !errors.Is(err, notification.ErrNotPending) {
			log.WithError(err).Error("Failed to cancel notification with stale guard.")
		}
		return
	}
	d.metrics.IncCancellation("guard")
	log.WithField("guard_status_record_id", *n.GuardStatusRecordID).Info("Notification cancelled: guard status no longer current.")
}

func (d *Dispatcher) handleFailure(ctx context.Context, n *notification.Notification, cause error, log *logrus.Entry) {
	if ctx.Err() != nil {
		// Shutting down; the row stays PENDING and is re-armed on restart.
		log.WithError(cause).Info("Dispatch aborted by shutdown.")
		return
	}

	delay, ok := d.policy.Next(n.RetryCount)
	if !ok {
		d.markFailed(ctx, n, cause.Error(), log)
		return
	}

	now := d.clock()
	next := now.Add(delay)
	if err := d.repo.RecordRetry(ctx, n.ID, n.RetryCount, next, cause.Error(), now); err != nil {
		if errors.Is(err, notification.ErrNotPending) {
			log.Debug("Retry already recorded or notification settled elsewhere.")
			return
		}
		log.WithError(err).Error("Failed to persist retry; leaving it for the rehydrate sweep.")
		return
	}
	d.timers.Arm(n.ID, next)
	d.metrics.IncRetry()
	log.WithFields(logrus.Fields{
		"retry":      n.RetryCount + 1,
		"next_at":    next,
		"last_error": cause.Error(),
	}).Warn("Delivery failed, retry scheduled.")
}

func (d *Dispatcher) markFailed(ctx context.Context, n *notification.Notification, lastError string, log *logrus.Entry) {
	if err := d.repo.MarkFailed(ctx, n.ID, lastError, d.clock()); err != nil {
		if !errors.Is(err, notification.ErrNotPending) {
			log.WithError(err).Error("Failed to mark notification FAILED.")
		}
		return
	}
	d.metrics.IncDelivery("failed")
	log.WithFields(logrus.Fields{"retry_count": n.RetryCount, "last_error": lastError}).Error("Notification failed permanently.")

	if d.alerter == nil {
		return
	}
	text := fmt.Sprintf("Notification %s to %s (%s) failed after %d retries: %s",
		n.ID, n.RecipientEmail, n.Title, n.RetryCount, lastError)
	if err := d.alerter.Alert(ctx, text); err != nil {
		log.WithError(err).Warn("Failed to alert operator.")
	}
}
