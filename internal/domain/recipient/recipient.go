// internal/domain/recipient/recipient.go
package recipient

import (
	"fmt"
	"strings"

	"research_workflow_engine/internal/domain/sentinel"
)

var (
	ErrInvalidRecipient  = fmt.Errorf("invalid recipient: %w", sentinel.ErrInvalidRequest)
	ErrRecipientNotFound = fmt.Errorf("recipient %w", sentinel.ErrNotFound)
)

// Category is the persisted discriminator of a Ref.
type Category string

const (
	CategoryUser             Category = "USER"
	CategoryStudent          Category = "STUDENT"
	CategoryExaminer         Category = "EXAMINER"
	CategorySupervisor       Category = "SUPERVISOR"
	CategoryPanelist         Category = "PANELIST"
	CategoryReviewer         Category = "REVIEWER"
	CategoryChairperson      Category = "CHAIRPERSON"
	CategoryMinutesSecretary Category = "MINUTES_SECRETARY"
	CategoryExternal         Category = "EXTERNAL"
)

// Ref identifies who a notification goes to. The set of implementations is
// closed; handle every variant through Visitor.
type Ref interface {
	Category() Category
	Accept(v Visitor) error
	sealed()
}

// Visitor has one method per Ref variant.
type Visitor interface {
	VisitUser(User) error
	VisitStudent(Student) error
	VisitExaminer(Examiner) error
	VisitSupervisor(Supervisor) error
	VisitPanelist(Panelist) error
	VisitReviewer(Reviewer) error
	VisitChairperson(Chairperson) error
	VisitMinutesSecretary(MinutesSecretary) error
	VisitExternal(External) error
}

type User struct{ ID string }
type Student struct{ ID string }
type Examiner struct{ ID string }
type Supervisor struct{ ID string }
type Panelist struct{ ID string }
type Reviewer struct{ ID string }
type Chairperson struct{ ID string }
type MinutesSecretary struct{ ID string }

// External is an ad-hoc address with no backing record.
type External struct {
	Email string
	Name  string
}

func (User) Category() Category             { return CategoryUser }
func (Student) Category() Category          { return CategoryStudent }
func (Examiner) Category() Category         { return CategoryExaminer }
func (Supervisor) Category() Category       { return CategorySupervisor }
func (Panelist) Category() Category         { return CategoryPanelist }
func (Reviewer) Category() Category         { return CategoryReviewer }
func (Chairperson) Category() Category      { return CategoryChairperson }
func (MinutesSecretary) Category() Category { return CategoryMinutesSecretary }
func (External) Category() Category         { return CategoryExternal }

func (r User) Accept(v Visitor) error             { return v.VisitUser(r) }
func (r Student) Accept(v Visitor) error          { return v.VisitStudent(r) }
func (r Examiner) Accept(v Visitor) error         { return v.VisitExaminer(r) }
func (r Supervisor) Accept(v Visitor) error       { return v.VisitSupervisor(r) }
func (r Panelist) Accept(v Visitor) error         { return v.VisitPanelist(r) }
func (r Reviewer) Accept(v Visitor) error         { return v.VisitReviewer(r) }
func (r Chairperson) Accept(v Visitor) error      { return v.VisitChairperson(r) }
func (r MinutesSecretary) Accept(v Visitor) error { return v.VisitMinutesSecretary(r) }
func (r External) Accept(v Visitor) error         { return v.VisitExternal(r) }

func (User) sealed()             {}
func (Student) sealed()          {}
func (Examiner) sealed()         {}
func (Supervisor) sealed()       {}
func (Panelist) sealed()         {}
func (Reviewer) sealed()         {}
func (Chairperson) sealed()      {}
func (MinutesSecretary) sealed() {}
func (External) sealed()         {}

// FromCategory rebuilds a Ref from its flat persisted form. email and name are
// only read for EXTERNAL; id is ignored for it.
func FromCategory(category Category, id, email, name string) (Ref, error) {
	switch Category(strings.ToUpper(string(category))) {
	case CategoryUser:
		return User{ID: id}, nil
	case CategoryStudent:
		return Student{ID: id}, nil
	case CategoryExaminer:
		return Examiner{ID: id}, nil
	case CategorySupervisor:
		return Supervisor{ID: id}, nil
	case CategoryPanelist:
		return Panelist{ID: id}, nil
	case CategoryReviewer:
		return Reviewer{ID: id}, nil
	case CategoryChairperson:
		return Chairperson{ID: id}, nil
	case CategoryMinutesSecretary:
		return MinutesSecretary{ID: id}, nil
	case CategoryExternal:
		return External{Email: email, Name: name}, nil
	}
	return nil, fmt.Errorf("unknown recipient category %q: %w", category, ErrInvalidRecipient)
}

// Address is a resolved delivery target. ID is nil for external recipients.
type Address struct {
	ID    *string
	Email string
	Name  string
}
