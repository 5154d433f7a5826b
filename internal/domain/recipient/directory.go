package recipient

import (
	"context"
	"fmt"

	"research_workflow_engine/internal/domain/sentinel"
)

var ErrContactNotFound = fmt.Errorf("contact %w", sentinel.ErrNotFound)

// Source names the backing table a recipient category is looked up in.
type Source string

const (
	SourceUsers     Source = "users"
	SourceStudents  Source = "students"
	SourceExaminers Source = "examiners"
	SourceStaff     Source = "staff"
)

// Contact is the raw directory entry behind a recipient.
type Contact struct {
	ID             string
	Name           string
	PrimaryEmail   string
	SecondaryEmail string
}

// Directory looks up contacts by source and id.
type Directory interface {
	// FindContact returns ErrContactNotFound when no row matches.
	FindContact(ctx context.Context, source Source, id string) (*Contact, error)
}
