package status

import (
	"context"
	"fmt"
	"time"

	"research_workflow_engine/internal/domain/sentinel"
)

var (
	ErrDefinitionNotFound = fmt.Errorf("status definition %w", sentinel.ErrNotFound)
	ErrRecordNotFound     = fmt.Errorf("status record %w", sentinel.ErrNotFound)
	ErrEntityNotFound     = fmt.Errorf("entity %w", sentinel.ErrNotFound)
	ErrDuplicateName      = fmt.Errorf("status definition name already exists: %w", sentinel.ErrConflict)
	ErrDefinitionInUse    = fmt.Errorf("status definition is referenced by status records: %w", sentinel.ErrConflict)
	ErrStaleCurrent       = fmt.Errorf("current status record changed concurrently: %w", sentinel.ErrConflict)
	ErrMultipleCurrent    = fmt.Errorf("more than one current status record: %w", sentinel.ErrInvariantViolation)
)

// DefinitionRepository persists the status definition catalog.
type DefinitionRepository interface {
	ListDefinitions(ctx context.Context) ([]*Definition, error)
	GetDefinitionByID(ctx context.Context, id string) (*Definition, error)
	CreateDefinition(ctx context.Context, def *Definition) error
	UpdateDefinition(ctx context.Context, def *Definition) error
	// IsDefinitionReferenced reports whether any status record points at the definition.
	IsDefinitionReferenced(ctx context.Context, id string) (bool, error)
}

// RecordRepository persists status history.
type RecordRepository interface {
	GetRecord(ctx context.Context, id string) (*Record, error)
	// ListCurrent returns every record flagged current for the entity. More
	// than one result means the data is corrupt.
	ListCurrent(ctx context.Context, kind EntityKind, entityID string) ([]*Record, error)
	// ListHistory returns all records for the entity, oldest first.
	ListHistory(ctx context.Context, kind EntityKind, entityID string) ([]*Record, error)
	// Swap atomically closes priorID at closedAt and inserts next as the new
	// current record. An empty priorID asserts the entity has no current
	// record. Returns ErrStaleCurrent when the assertion no longer holds and
	// ErrMultipleCurrent when more than one current record is found.
	Swap(ctx context.Context, kind EntityKind, entityID, priorID string, next *Record, closedAt time.Time) error
}

// EntityDirectory answers whether a student, proposal or book exists.
type EntityDirectory interface {
	EntityExists(ctx context.Context, kind EntityKind, id string) (bool, error)
}
