// internal/domain/delivery/gateway.go
package delivery

import (
	"context"
	"fmt"
)

// Attachment is an optional file carried with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a rendered notification ready for the transport.
type Message struct {
	ToEmail     string
	ToName      string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
	// IdempotencyKey is stable across retries of the same notification.
	IdempotencyKey string
}

// Receipt is what the transport hands back on acceptance.
type Receipt struct {
	MessageID string
}

// Gateway delivers rendered messages. Any error is treated as retryable.
type Gateway interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// TransportError wraps a delivery failure reported by a Gateway.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
