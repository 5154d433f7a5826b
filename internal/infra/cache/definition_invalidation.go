package cache

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Refresher reloads a local cache.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// DefinitionInvalidator broadcasts catalog edits over Redis pub/sub so every
// process drops its cached status definitions.
type DefinitionInvalidator struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *logrus.Entry
}

func NewDefinitionInvalidator(client *redis.Client, channel string, logger *logrus.Entry) *DefinitionInvalidator {
	origin, _ := os.Hostname()
	return &DefinitionInvalidator{client: client, channel: channel, origin: origin, logger: logger}
}

func (i *DefinitionInvalidator) PublishInvalidation(ctx context.Context) error {
	return i.client.Publish(ctx, i.channel, i.origin).Err()
}

// Listen refreshes target on every invalidation message until ctx is done.
// The publishing process has already refreshed itself; the extra reload it
// receives back is harmless.
func (i *DefinitionInvalidator) Listen(ctx context.Context, target Refresher) error {
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	i.logger.WithField("channel", i.channel).Info("Listening for status definition invalidations.")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := target.Refresh(ctx); err != nil {
				i.logger.WithError(err).WithField("origin", msg.Payload).Warn("Refresh after invalidation failed.")
				continue
			}
			i.logger.WithField("origin", msg.Payload).Debug("Status definitions refreshed after invalidation.")
		}
	}
}
