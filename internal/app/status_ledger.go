package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxSwapAttempts bounds how often a transition re-reads the current record
// after losing an optimistic swap.
const maxSwapAttempts = 5

// TransitionRequest is the name-based form used by workflow controllers.
type TransitionRequest struct {
	Kind       status.EntityKind
	EntityID   string
	StatusName string
	UpdatedBy  *string
	Conditions *string
}

// StatusLedger owns every status record mutation and keeps exactly one
// current record per entity.
type StatusLedger struct {
	records  status.RecordRepository
	entities status.EntityDirectory
	catalog  *DefinitionCatalog
	locks    *keyedLock
	clock    func() time.Time
	logger   *logrus.Entry
	metrics  *metrics.Metrics
}

type LedgerOption func(*StatusLedger)

func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(l *StatusLedger) { l.clock = clock }
}

func WithLedgerMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *StatusLedger) { l.metrics = m }
}

func NewStatusLedger(
	records status.RecordRepository,
	entities status.EntityDirectory,
	catalog *DefinitionCatalog,
	logger *logrus.Entry,
	opts ...LedgerOption,
) *StatusLedger {
	l := &StatusLedger{
		records:  records,
		entities: entities,
		catalog:  catalog,
		locks:    newKeyedLock(),
		clock:    time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transition moves an entity to the status with the given name.
func (l *StatusLedger) Transition(ctx context.Context, req TransitionRequest) (*status.Record, error) {
	def, err := l.catalog.ByName(ctx, req.StatusName)
	if err != nil {
		return nil, err
	}
	return l.transition(ctx, req.Kind, req.EntityID, def, req.UpdatedBy, req.Conditions)
}

// TransitionTo moves an entity to the status with the given definition id.
// The prior current record, if any, is closed with EndDate equal to the new
// record's StartDate in the same atomic step.
func (l *StatusLedger) TransitionTo(
	ctx context.Context,
	kind status.EntityKind,
	entityID, definitionID string,
	updatedBy, conditions *string,
) (*status.Record, error) {
	def, err := l.catalog.ByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return l.transition(ctx, kind, entityID, def, updatedBy, conditions)
}

func (l *StatusLedger) transition(
	ctx context.Context,
	kind status.EntityKind,
	entityID string,
	def *status.Definition,
	updatedBy, conditions *string,
) (*status.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("entity kind %q: %w", kind, sentinel.ErrInvalidRequest)
	}
	log := l.logger.WithFields(logrus.Fields{"kind": kind, "entity_id": entityID, "status": def.Name})

	exists, err := l.entities.EntityExists(ctx, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s %s: %w", kind, entityID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s %s: %w", kind, entityID, status.ErrEntityNotFound)
	}

	unlock := l.locks.Lock(string(kind) + ":" + entityID)
	defer unlock()

	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		prior, err := l.currentLocked(ctx, kind, entityID)
		if err != nil && !errors.Is(err, status.ErrRecordNotFound) {
			if errors.Is(err, sentinel.ErrInvariantViolation) {
				l.metrics.IncInvariantViolation()
				log.WithError(err).Error("Refusing transition: entity has more than one current status.")
			}
			l.metrics.IncTransition(string(kind), "error")
			return nil, err
		}
		priorID := ""
		if prior != nil {
			priorID = prior.ID
		}

		now := l.clock()
		next := &status.Record{
			ID:           uuid.NewString(),
			Kind:         kind,
			EntityID:     entityID,
			DefinitionID: def.ID,
			StartDate:    now,
			IsCurrent:    true,
			Conditions:   conditions,
			UpdatedBy:    updatedBy,
		}
		err = l.records.Swap(ctx, kind, entityID, priorID, next, now)
		switch {
		case err == nil:
			l.metrics.IncTransition(string(kind), "ok")
			log.WithFields(logrus.Fields{"record_id": next.ID, "prior_id": priorID}).Info("Status transitioned.")
			return next, nil
		case errors.Is(err, status.ErrStaleCurrent):
			log.WithField("attempt", attempt).Debug("Current status changed underneath transition, retrying.")
			continue
		case errors.Is(err, sentinel.ErrInvariantViolation):
			l.metrics.IncInvariantViolation()
			log.WithError(err).Error("Refusing transition: entity has more than one current status.")
		}
		l.metrics.IncTransition(string(kind), "error")
		return nil, fmt.Errorf("failed to transition %s %s: %w", kind, entityID, err)
	}

	l.metrics.IncTransition(string(kind), "conflict")
	return nil, fmt.Errorf("transition %s %s gave up after %d attempts: %w", kind, entityID, maxSwapAttempts, status.ErrStaleCurrent)
}

// IsCurrent reports whether the record is still its entity's current status.
func (l *StatusLedger) IsCurrent(ctx context.Context, recordID string) (bool, error) {
	rec, err := l.records.GetRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	return rec.IsCurrent, nil
}

// Current returns the entity's current record, or ErrRecordNotFound.
func (l *StatusLedger) Current(ctx context.Context, kind status.EntityKind, entityID string) (*status.Record, error) {
	rec, err := l.currentLocked(ctx, kind, entityID)
	if errors.Is(err, sentinel.ErrInvariantViolation) {
		l.metrics.IncInvariantViolation()
	}
	return rec, err
}

func (l *StatusLedger) currentLocked(ctx context.Context, kind status.EntityKind, entityID string) (*status.Record, error) {
	current, err := l.records.ListCurrent(ctx, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current status of %s %s: %w", kind, entityID, err)
	}
	switch len(current) {
	case 0:
		return nil, fmt.Errorf("%s %s has no current status: %w", kind, entityID, status.ErrRecordNotFound)
	case 1:
		return current[0], nil
	}
	return nil, fmt.Errorf("%s %s has %d current records: %w", kind, entityID, len(current), status.ErrMultipleCurrent)
}

// History returns every record for the entity, oldest first.
func (l *StatusLedger) History(ctx context.Context, kind status.EntityKind, entityID string) ([]*status.Record, error) {
	return l.records.ListHistory(ctx, kind, entityID)
}

// Health evaluates how long the entity has sat in its current status against
// that definition's warning and critical thresholds.
func (l *StatusLedger) Health(ctx context.Context, kind status.EntityKind, entityID string) (status.Health, *status.Record, error) {
	rec, err := l.Current(ctx, kind, entityID)
	if err != nil {
		return "", nil, err
	}
	def, err := l.catalog.ByID(ctx, rec.DefinitionID)
	if err != nil {
		return "", nil, err
	}
	return def.HealthAt(rec.StartDate, l.clock()), rec, nil
}
