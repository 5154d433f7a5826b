package app

import (
	"context"
	"fmt"

	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/status"
)

var ErrOperatorNotAuthorized = fmt.Errorf("performing user is not authorized as an operator")

const defaultOperatorListLimit = 20

// StatusSummary is the operator view of an entity's current status.
type StatusSummary struct {
	Record     *status.Record
	Definition *status.Definition
	Health     status.Health
}

// OperatorService backs the operator chat commands. Every call checks the
// caller against the configured operator id.
type OperatorService struct {
	notifications *NotificationService
	ledger        *StatusLedger
	catalog       *DefinitionCatalog
	operatorID    int64
}

func NewOperatorService(notifications *NotificationService, ledger *StatusLedger, catalog *DefinitionCatalog, operatorID int64) *OperatorService {
	return &OperatorService{
		notifications: notifications,
		ledger:        ledger,
		catalog:       catalog,
		operatorID:    operatorID,
	}
}

func (s *OperatorService) authorize(performingID int64) error {
	if s.operatorID == 0 || performingID != s.operatorID {
		return ErrOperatorNotAuthorized
	}
	return nil
}

// ListNotifications returns up to limit notifications in the given state,
// earliest scheduled first.
func (s *OperatorService) ListNotifications(ctx context.Context, performingID int64, st notification.Status, limit int) ([]*notification.Notification, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultOperatorListLimit
	}
	return s.notifications.List(ctx, notification.Filter{Status: st, Limit: limit})
}

func (s *OperatorService) GetNotification(ctx context.Context, performingID int64, id string) (*notification.Notification, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	return s.notifications.Get(ctx, id)
}

// CancelNotification cancels id and returns the row as it stands afterwards.
// A notification that settled first keeps its SENT or FAILED status.
func (s *OperatorService) CancelNotification(ctx context.Context, performingID int64, id string) (*notification.Notification, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	if err := s.notifications.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return s.notifications.Get(ctx, id)
}

func (s *OperatorService) EntityStatus(ctx context.Context, performingID int64, kind status.EntityKind, entityID string) (*StatusSummary, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	health, rec, err := s.ledger.Health(ctx, kind, entityID)
	if err != nil {
		return nil, err
	}
	def, err := s.catalog.ByID(ctx, rec.DefinitionID)
	if err != nil {
		return nil, err
	}
	return &StatusSummary{Record: rec, Definition: def, Health: health}, nil
}
