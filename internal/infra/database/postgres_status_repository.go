// internal/infra/database/postgres_status_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"research_workflow_engine/internal/domain/status"

	"github.com/lib/pq"
)

// PostgresStatusRepository stores status definitions and status records.
type PostgresStatusRepository struct {
	db *sql.DB
}

func NewPostgresStatusRepository(db *sql.DB) *PostgresStatusRepository {
	return &PostgresStatusRepository{db: db}
}

// --- StatusDefinition Methods ---

const definitionColumns = `id, name, description, expected_duration_days, warning_days, critical_days,
       delay_days, notify_roles, color, is_active, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (*status.Definition, error) {
	d := status.Definition{}
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.ExpectedDurationDays, &d.WarningDays, &d.CriticalDays,
		&d.DelayDays, pq.Array(&d.NotifyRoles), &d.Color, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresStatusRepository) ListDefinitions(ctx context.Context) ([]*status.Definition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM status_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error listing status definitions: %w", err)
	}
	defer rows.Close()

	var defs []*status.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning status definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status definitions: %w", err)
	}
	return defs, nil
}

func (r *PostgresStatusRepository) GetDefinitionByID(ctx context.Context, id string) (*status.Definition, error) {
	if !isUUID(id) {
		return nil, status.ErrDefinitionNotFound
	}
	d, err := scanDefinition(r.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM status_definitions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("error getting status definition by ID: %w", err)
	}
	return d, nil
}

func (r *PostgresStatusRepository) CreateDefinition(ctx context.Context, d *status.Definition) error {
	query := `INSERT INTO status_definitions (id, name, description, expected_duration_days, warning_days, critical_days,
                                             delay_days, notify_roles, color, is_active, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.Name, d.Description, d.ExpectedDurationDays, d.WarningDays,
		d.CriticalDays, d.DelayDays, pq.Array(d.NotifyRoles), d.Color, d.IsActive, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "status_definitions_name_key") {
			return status.ErrDuplicateName
		}
		return fmt.Errorf("error creating status definition: %w", err)
	}
	return nil
}

func (r *PostgresStatusRepository) UpdateDefinition(ctx context.Context, d *status.Definition) error {
	if !isUUID(d.ID) {
		return status.ErrDefinitionNotFound
	}
	query := `UPDATE status_definitions
              SET name = $1, description = $2, expected_duration_days = $3, warning_days = $4, critical_days = $5,
                  delay_days = $6, notify_roles = $7, color = $8, is_active = $9, updated_at = $10
              WHERE id = $11`
	res, err := r.db.ExecContext(ctx, query, d.Name, d.Description, d.ExpectedDurationDays, d.WarningDays,
		d.CriticalDays, d.DelayDays, pq.Array(d.NotifyRoles), d.Color, d.IsActive, d.UpdatedAt, d.ID)
	if err != nil {
		if isUniqueViolation(err, "status_definitions_name_key") {
			return status.ErrDuplicateName
		}
		return fmt.Errorf("error updating status definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return status.ErrDefinitionNotFound
	}
	return nil
}

func (r *PostgresStatusRepository) IsDefinitionReferenced(ctx context.Context, id string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	var referenced bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM status_records WHERE definition_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("error checking status definition references: %w", err)
	}
	return referenced, nil
}

// --- StatusRecord Methods ---

const recordColumns = `id, entity_kind, entity_id, definition_id, start_date, end_date, is_current, conditions, updated_by`

func scanRecord(row interface{ Scan(...any) error }) (*status.Record, error) {
	rec := status.Record{}
	var endDate sql.NullTime
	var conditions, updatedBy sql.NullString
	err := row.Scan(&rec.ID, &rec.Kind, &rec.EntityID, &rec.DefinitionID, &rec.StartDate, &endDate,
		&rec.IsCurrent, &conditions, &updatedBy)
	if err != nil {
		return nil, err
	}
	rec.EndDate = timePtr(endDate)
	rec.Conditions = stringPtr(conditions)
	rec.UpdatedBy = stringPtr(updatedBy)
	return &rec, nil
}

func (r *PostgresStatusRepository) GetRecord(ctx context.Context, id string) (*status.Record, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("record %s: %w", id, status.ErrRecordNotFound)
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM status_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, status.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("error getting status record: %w", err)
	}
	return rec, nil
}

func (r *PostgresStatusRepository) ListCurrent(ctx context.Context, kind status.EntityKind, entityID string) ([]*status.Record, error) {
	return r.listRecords(ctx, `SELECT `+recordColumns+` FROM status_records
              WHERE entity_kind = $1 AND entity_id = $2 AND is_current
              ORDER BY start_date`, kind, entityID)
}

func (r *PostgresStatusRepository) ListHistory(ctx context.Context, kind status.EntityKind, entityID string) ([]*status.Record, error) {
	return r.listRecords(ctx, `SELECT `+recordColumns+` FROM status_records
              WHERE entity_kind = $1 AND entity_id = $2
              ORDER BY start_date, is_current`, kind, entityID)
}

func (r *PostgresStatusRepository) listRecords(ctx context.Context, query string, args ...any) ([]*status.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing status records: %w", err)
	}
	defer rows.Close()

	var out []*status.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning status record: %w", err)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status records: %w", err)
	}
	return out, nil
}

// Swap closes the prior current record and inserts the next one in a single
// transaction. The current rows are locked first; the partial unique index
// status_records_one_current catches racing first transitions.
func (r *PostgresStatusRepository) Swap(ctx context.Context, kind status.EntityKind, entityID, priorID string, next *status.Record, closedAt time.Time) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for status swap: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	rows, err := txn.QueryContext(ctx, `SELECT id FROM status_records
              WHERE entity_kind = $1 AND entity_id = $2 AND is_current
              FOR UPDATE`, kind, entityID)
	if err != nil {
		return fmt.Errorf("error locking current status: %w", err)
	}
	var currentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("error scanning current status id: %w", err)
		}
		currentIDs = append(currentIDs, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating current status ids: %w", err)
	}

	switch {
	case len(currentIDs) > 1:
		return status.ErrMultipleCurrent
	case priorID == "" && len(currentIDs) != 0:
		return status.ErrStaleCurrent
	case priorID != "" && (len(currentIDs) == 0 || currentIDs[0] != priorID):
		return status.ErrStaleCurrent
	}

	if priorID != "" {
		_, err = txn.ExecContext(ctx, `UPDATE status_records SET is_current = FALSE, end_date = $1
              WHERE id = $2 AND is_current`, closedAt, priorID)
		if err != nil {
			return fmt.Errorf("error closing prior status record: %w", err)
		}
	}

	_, err = txn.ExecContext(ctx, `INSERT INTO status_records (`+recordColumns+`)
              VALUES ($1, $2, $3, $4, $5, NULL, TRUE, $6, $7)`,
		next.ID, next.Kind, next.EntityID, next.DefinitionID, next.StartDate,
		nullString(next.Conditions), nullString(next.UpdatedBy))
	if err != nil {
		if isUniqueViolation(err, "status_records_one_current") {
			return status.ErrStaleCurrent
		}
		return fmt.Errorf("error inserting status record: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit status swap: %w", err)
	}
	return nil
}
