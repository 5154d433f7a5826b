package notification

import (
	"time"

	"research_workflow_engine/internal/domain/recipient"
)

// GuardCancelReason is recorded as LastError when a notification is dropped
// because its guard status record stopped being current.
const GuardCancelReason = "guard status no longer current"

// Notification is a persisted, time-deferred message.
type Notification struct {
	ID                  string
	Type                Type
	Status              Status
	Title               string
	Message             string
	RecipientCategory   recipient.Category
	RecipientRef        *string
	RecipientEmail      string
	RecipientName       string
	ScheduledFor        time.Time
	SentAt              *time.Time
	RetryCount          int
	LastError           *string
	Metadata            map[string]string
	GuardStatusRecordID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clone returns a deep copy.
func (n *Notification) Clone() *Notification {
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	c.RecipientRef = clonePtr(n.RecipientRef)
	c.SentAt = clonePtr(n.SentAt)
	c.LastError = clonePtr(n.LastError)
	c.GuardStatusRecordID = clonePtr(n.GuardStatusRecordID)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Filter narrows List queries. Zero fields match everything.
type Filter struct {
	Status            Status
	RecipientCategory recipient.Category
	Limit             int
}
