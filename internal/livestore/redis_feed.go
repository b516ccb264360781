package livestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix     = "live:"
	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
)

// feedPayload is the message published to Redis for cross-instance change notification.
type feedPayload struct {
	Topic Topic `json:"topic"`
	At    int64 `json:"at"`
}

// Feed publishes change notifications and lets local watchers follow them.
type Feed interface {
	Publish(ctx context.Context, sessionID uuid.UUID, t Topic) error
	Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error)
}

// LocalFeed is a Feed confined to one process.
type LocalFeed struct {
	fan *fanout
}

// NewLocalFeed creates an in-process feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{fan: newFanout()}
}

func (f *LocalFeed) Publish(_ context.Context, sessionID uuid.UUID, t Topic) error {
	f.fan.dispatch(sessionID, t)
	return nil
}

func (f *LocalFeed) Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error) {
	return f.fan.watch(ctx, sessionID, topics)
}

// RedisFeed fans notifications out across instances over Redis pub/sub.
// Each instance holds one Redis subscription per watched session, opened for the
// first local watcher and closed after the last one leaves. Watchers of other
// sessions are not blocked while a subscription is being opened.
type RedisFeed struct {
	client *redis.Client
	logger *zap.Logger
	fan    *fanout
}

// NewRedisFeed creates a Redis pub/sub bridge for session change notifications.
func NewRedisFeed(client *redis.Client, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &RedisFeed{
		client: client,
		logger: logger,
		fan:    newFanout(),
	}
	f.fan.open = f.subscribe
	return f
}

func channelName(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

// Publish sends to Redis only; the subscriber loop dispatches locally, so every
// instance (this one included) sees the notification exactly once.
func (f *RedisFeed) Publish(ctx context.Context, sessionID uuid.UUID, t Topic) error {
	body, err := json.Marshal(feedPayload{Topic: t, At: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return f.client.Publish(ctx, channelName(sessionID), body).Err()
}

func (f *RedisFeed) Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error) {
	return f.fan.watch(ctx, sessionID, topics)
}

// subscribe opens the Redis subscription for the first local watcher of a session.
// The returned func ends it after the last watcher leaves.
func (f *RedisFeed) subscribe(sessionID uuid.UUID) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := f.client.Subscribe(ctx, channelName(sessionID))
	recvCtx, recvCancel := context.WithTimeout(ctx, subscribeTimeout)
	_, err := pubsub.Receive(recvCtx)
	recvCancel()
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p feedPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					f.logger.Warn("invalid feed payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				f.fan.dispatch(sessionID, p.Topic)
			}
		}
	}()
	f.logger.Debug("feed subscribed", zap.String("session_id", sessionID.String()))
	return func() {
		cancel()
		f.logger.Debug("feed unsubscribed", zap.String("session_id", sessionID.String()))
	}, nil
}

var (
	_ Feed = (*LocalFeed)(nil)
	_ Feed = (*RedisFeed)(nil)
)
