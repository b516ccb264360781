// Package engagement counts likes on a live session.
package engagement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/stream"
)

// Counter increments and streams a session's like count.
type Counter struct {
	store  livestore.Store
	resync time.Duration
	logger *zap.Logger
}

// NewCounter creates a like counter.
func NewCounter(store livestore.Store, resync time.Duration, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{store: store, resync: resync, logger: logger}
}

// Like adds one like and returns the new total. Concurrent likes are never lost.
func (c *Counter) Like(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return c.store.IncrementLikes(ctx, sessionID, 1)
}

// Count returns the current like count.
func (c *Counter) Count(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.LikeCount, nil
}

// Subscribe streams the like count. Intermediate values may be skipped under bursts;
// the latest value is always delivered.
func (c *Counter) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan int64, error) {
	changes, err := c.store.Watch(ctx, sessionID, livestore.TopicLikes)
	if err != nil {
		return nil, err
	}
	first, err := c.Count(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return stream.Follow(ctx, first, changes, func(ctx context.Context) (int64, error) {
		return c.Count(ctx, sessionID)
	}, stream.Options[int64]{
		Resync: c.resync,
		Equal:  func(a, b int64) bool { return a == b },
		Logger: c.logger,
		Name:   "likes",
	}), nil
}
