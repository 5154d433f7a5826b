package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"research_workflow_engine/internal/domain/recipient"
)

type emailRule int

const (
	primaryOnly emailRule = iota
	primaryThenSecondary
)

type recipientSource struct {
	source recipient.Source
	rule   emailRule
}

// recipientSources is the fixed mapping from category to backing directory.
var recipientSources = map[recipient.Category]recipientSource{
	recipient.CategoryUser:             {recipient.SourceUsers, primaryOnly},
	recipient.CategoryStudent:          {recipient.SourceStudents, primaryOnly},
	recipient.CategoryExaminer:         {recipient.SourceExaminers, primaryThenSecondary},
	recipient.CategoryPanelist:         {recipient.SourceExaminers, primaryThenSecondary},
	recipient.CategoryReviewer:         {recipient.SourceExaminers, primaryThenSecondary},
	recipient.CategorySupervisor:       {recipient.SourceStaff, primaryThenSecondary},
	recipient.CategoryChairperson:      {recipient.SourceStaff, primaryThenSecondary},
	recipient.CategoryMinutesSecretary: {recipient.SourceStaff, primaryThenSecondary},
}

// RecipientResolver turns a recipient reference into a deliverable address.
type RecipientResolver struct {
	directory recipient.Directory
}

func NewRecipientResolver(directory recipient.Directory) *RecipientResolver {
	return &RecipientResolver{directory: directory}
}

func (r *RecipientResolver) Resolve(ctx context.Context, ref recipient.Ref) (recipient.Address, error) {
	if ref == nil {
		return recipient.Address{}, fmt.Errorf("recipient is required: %w", recipient.ErrInvalidRecipient)
	}
	v := &resolveVisitor{ctx: ctx, resolver: r}
	if err := ref.Accept(v); err != nil {
		return recipient.Address{}, err
	}
	return v.addr, nil
}

type resolveVisitor struct {
	ctx      context.Context
	resolver *RecipientResolver
	addr     recipient.Address
}

func (v *resolveVisitor) VisitUser(r recipient.User) error       { return v.lookup(r.Category(), r.ID) }
func (v *resolveVisitor) VisitStudent(r recipient.Student) error { return v.lookup(r.Category(), r.ID) }
func (v *resolveVisitor) VisitExaminer(r recipient.Examiner) error {
	return v.lookup(r.Category(), r.ID)
}
func (v *resolveVisitor) VisitSupervisor(r recipient.Supervisor) error {
	return v.lookup(r.Category(), r.ID)
}
func (v *resolveVisitor) VisitPanelist(r recipient.Panelist) error {
	return v.lookup(r.Category(), r.ID)
}
func (v *resolveVisitor) VisitReviewer(r recipient.Reviewer) error {
	return v.lookup(r.Category(), r.ID)
}
func (v *resolveVisitor) VisitChairperson(r recipient.Chairperson) error {
	return v.lookup(r.Category(), r.ID)
}
func (v *resolveVisitor) VisitMinutesSecretary(r recipient.MinutesSecretary) error {
	return v.lookup(r.Category(), r.ID)
}

func (v *resolveVisitor) VisitExternal(r recipient.External) error {
	email, name := strings.TrimSpace(r.Email), strings.TrimSpace(r.Name)
	if email == "" || name == "" {
		return fmt.Errorf("external recipient needs both email and name: %w", recipient.ErrInvalidRecipient)
	}
	v.addr = recipient.Address{Email: email, Name: name}
	return nil
}

func (v *resolveVisitor) lookup(category recipient.Category, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s recipient id is empty: %w", category, recipient.ErrInvalidRecipient)
	}
	src, ok := recipientSources[category]
	if !ok {
		return fmt.Errorf("no directory for category %s: %w", category, recipient.ErrInvalidRecipient)
	}

	contact, err := v.resolver.directory.FindContact(v.ctx, src.source, id)
	if err != nil {
		if errors.Is(err, recipient.ErrContactNotFound) {
			return fmt.Errorf("%s %s: %w", category, id, recipient.ErrRecipientNotFound)
		}
		return fmt.Errorf("failed to look up %s %s: %w", category, id, err)
	}

	email := strings.TrimSpace(contact.PrimaryEmail)
	if email == "" && src.rule == primaryThenSecondary {
		email = strings.TrimSpace(contact.SecondaryEmail)
	}
	if email == "" {
		return fmt.Errorf("%s %s has no usable email: %w", category, id, recipient.ErrInvalidRecipient)
	}

	contactID := contact.ID
	v.addr = recipient.Address{ID: &contactID, Email: email, Name: contact.Name}
	return nil
}
