package mail

import (
	"context"

	"research_workflow_engine/internal/domain/delivery"

	"github.com/sirupsen/logrus"
)

// LogGateway writes messages to the log instead of sending them. Used when
// no SMTP host is configured.
type LogGateway struct {
	logger *logrus.Entry
}

func NewLogGateway(logger *logrus.Entry) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, msg delivery.Message) (delivery.Receipt, error) {
	g.logger.WithFields(logrus.Fields{
		"to":          msg.ToEmail,
		"to_name":     msg.ToName,
		"subject":     msg.Subject,
		"attachments": len(msg.Attachments),
		"message_id":  msg.IdempotencyKey,
	}).Info("Mail delivery skipped (log gateway).")
	return delivery.Receipt{MessageID: msg.IdempotencyKey}, nil
}
