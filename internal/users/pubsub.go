package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
)

// Channel carries status change events between processes.
const Channel = "hh-autopilot:revoked"

// Canceler stops in-flight work of a user.
type Canceler interface {
	CancelUser(userID string) int
}

// RedisNotifier publishes events on Channel.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, Channel, payload).Err()
}

// LocalNotifier cancels cycles of the current process directly.
type LocalNotifier struct {
	Canceler Canceler
}

func (n LocalNotifier) Notify(_ context.Context, ev Event) error {
	n.Canceler.CancelUser(ev.UserID)
	return nil
}

// Listen cancels cycles of users announced on Channel until ctx is done.
func Listen(ctx context.Context, client *redis.Client, c Canceler, log *zap.Logger) error {
	log = logger.WithFields(log, zap.String("channel", Channel))

	pubsub := client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// Receive confirms the subscription before any event can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	log.Info("subscribed to redis channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			handle(msg.Payload, c, log)
		}
	}
}

func handle(payload string, c Canceler, log *zap.Logger) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.UserID == "" {
		log.Warn("ignoring malformed status event", zap.String("payload", payload), zap.Error(err))
		return
	}

	cancelled := c.CancelUser(ev.UserID)
	log.Info("status change received",
		zap.String(logger.FieldUser, ev.UserID),
		zap.String("status", string(ev.Status)),
		zap.Int("cancelled_cycles", cancelled),
	)
}
