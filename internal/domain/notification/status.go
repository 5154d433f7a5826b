// internal/domain/notification/status.go
package notification

// Type is the delivery flavour of a notification.
type Type string

const (
	TypeEmail    Type = "EMAIL"
	TypeSystem   Type = "SYSTEM"
	TypeReminder Type = "REMINDER"
)

func (t Type) Valid() bool {
	switch t {
	case TypeEmail, TypeSystem, TypeReminder:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
// PENDING is the only non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}
