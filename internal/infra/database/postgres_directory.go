package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/status"
)

// PostgresDirectory reads contact details and entity existence from the
// domain tables owned by the surrounding application.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

var contactTables = map[recipient.Source]string{
	recipient.SourceUsers:     "users",
	recipient.SourceStudents:  "students",
	recipient.SourceExaminers: "examiners",
	recipient.SourceStaff:     "staff",
}

var entityTables = map[status.EntityKind]string{
	status.EntityStudent:  "students",
	status.EntityProposal: "proposals",
	status.EntityBook:     "books",
}

func (d *PostgresDirectory) FindContact(ctx context.Context, source recipient.Source, id string) (*recipient.Contact, error) {
	table, ok := contactTables[source]
	if !ok {
		return nil, fmt.Errorf("unknown contact source %q", source)
	}
	query := fmt.Sprintf(`SELECT id, name, email, secondary_email FROM %s WHERE id = $1`, table)

	c := recipient.Contact{}
	var primary, secondary sql.NullString
	err := d.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &primary, &secondary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, recipient.ErrContactNotFound
		}
		return nil, fmt.Errorf("error getting %s contact: %w", source, err)
	}
	c.PrimaryEmail = primary.String
	c.SecondaryEmail = secondary.String
	return &c, nil
}

func (d *PostgresDirectory) EntityExists(ctx context.Context, kind status.EntityKind, id string) (bool, error) {
	table, ok := entityTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown entity kind %q", kind)
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := d.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking %s existence: %w", kind, err)
	}
	return exists, nil
}
