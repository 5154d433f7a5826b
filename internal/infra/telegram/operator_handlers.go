package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"research_workflow_engine/internal/app"
	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/domain/status"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const operatorHelp = "Operator commands:\n\n" +
	"/pending [limit] - list pending notifications\n" +
	"/failed [limit] - list failed notifications\n" +
	"/notification <id> - show one notification\n" +
	"/cancel <id> - cancel a pending notification\n" +
	"/status <student|proposal|book> <id> - current status and health\n" +
	"/help - this message"

// RegisterOperatorHandlers registers the operator chat commands.
func RegisterOperatorHandlers(ctx context.Context, b *telebot.Bot, ops *app.OperatorService, baseLogger *logrus.Entry) {
	handle := func(command string, fn func(c telebot.Context, log *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   command,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")
			return fn(c, handlerLogger)
		})
	}

	handle("/help", func(c telebot.Context, log *logrus.Entry) error {
		return c.Send(operatorHelp)
	})

	listHandler := func(st notification.Status) func(c telebot.Context, log *logrus.Entry) error {
		return func(c telebot.Context, log *logrus.Entry) error {
			limit := 0
			if args := c.Args(); len(args) == 1 {
				if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil {
					return c.Send("Limit must be a number.")
				}
			}
			items, err := ops.ListNotifications(ctx, c.Sender().ID, st, limit)
			if err != nil {
				return replyError(c, log, err)
			}
			if len(items) == 0 {
				return c.Send(fmt.Sprintf("No %s notifications.", strings.ToLower(string(st))))
			}
			var sb strings.Builder
			for _, n := range items {
				fmt.Fprintf(&sb, "%s  %s  %s  retries=%d\n  %s\n",
					n.ID, n.ScheduledFor.Format(time.RFC3339), n.RecipientEmail, n.RetryCount, n.Title)
			}
			return c.Send(sb.String())
		}
	}
	handle("/pending", listHandler(notification.StatusPending))
	handle("/failed", listHandler(notification.StatusFailed))

	handle("/notification", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /notification <id>")
		}
		n, err := ops.GetNotification(ctx, c.Sender().ID, args[0])
		if err != nil {
			return replyError(c, log, err)
		}
		return c.Send(formatNotification(n))
	})

	handle("/cancel", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /cancel <id>")
		}
		n, err := ops.CancelNotification(ctx, c.Sender().ID, args[0])
		if err != nil {
			return replyError(c, log, err)
		}
		log.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"status":          n.Status,
		}).Info("Operator cancel handled")
		return c.Send(cancelReply(n))
	})

	handle("/status", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 2 {
			return c.Send("Usage: /status <student|proposal|book> <id>")
		}
		kind := status.EntityKind(strings.ToUpper(args[0]))
		summary, err := ops.EntityStatus(ctx, c.Sender().ID, kind, args[1])
		if err != nil {
			return replyError(c, log, err)
		}
		days := int(time.Since(summary.Record.StartDate).Hours() / 24)
		return c.Send(fmt.Sprintf("%s %s: %s since %s (%d days, %s)",
			kind, args[1], summary.Definition.Name,
			summary.Record.StartDate.Format("2006-01-02"), days, summary.Health))
	})
}

func replyError(c telebot.Context, log *logrus.Entry, err error) error {
	switch {
	case errors.Is(err, app.ErrOperatorNotAuthorized):
		log.Warn("Unauthorized access attempt")
		return c.Send("You are not allowed to run this command.")
	case errors.Is(err, sentinel.ErrNotFound):
		return c.Send("Not found.")
	case errors.Is(err, sentinel.ErrInvalidRequest):
		return c.Send(fmt.Sprintf("Invalid request: %v", err))
	}
	log.WithError(err).Error("Command failed")
	return c.Send("Something went wrong, check the logs.")
}

func formatNotification(n *notification.Notification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s\n", n.ID, n.Status, n.Type)
	fmt.Fprintf(&sb, "To: %s <%s> (%s)\n", n.RecipientName, n.RecipientEmail, n.RecipientCategory)
	fmt.Fprintf(&sb, "Title: %s\n", n.Title)
	fmt.Fprintf(&sb, "Scheduled: %s\n", n.ScheduledFor.Format(time.RFC3339))
	if n.SentAt != nil {
		fmt.Fprintf(&sb, "Sent: %s\n", n.SentAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Retries: %d\n", n.RetryCount)
	if n.LastError != nil {
		fmt.Fprintf(&sb, "Last error: %s\n", *n.LastError)
	}
	if n.GuardStatusRecordID != nil {
		fmt.Fprintf(&sb, "Guard: %s\n", *n.GuardStatusRecordID)
	}
	return sb.String()
}

func cancelReply(n *notification.Notification) string {
	if n.Status == notification.StatusCancelled {
		return fmt.Sprintf("Notification %s cancelled.", n.ID)
	}
	return fmt.Sprintf("Notification %s was already %s; nothing to cancel.", n.ID, strings.ToLower(string(n.Status)))
}
