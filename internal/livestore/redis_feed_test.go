package livestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFeed_DeliversOnlyWatchedTopics(t *testing.T) {
	f := NewLocalFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sid := uuid.New()
	ch, err := f.Watch(ctx, sid, TopicMessages)
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, sid, TopicLikes))
	require.NoError(t, f.Publish(ctx, uuid.New(), TopicMessages))
	require.NoError(t, f.Publish(ctx, sid, TopicMessages))

	select {
	case got := <-ch:
		assert.Equal(t, TopicMessages, got)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected notification %q", got)
	default:
	}

	cancel()
	assert.Eventually(t, func() bool { return f.fan.watchers(sid) == 0 }, time.Second, 10*time.Millisecond)
}

// newTestRedis connects to REDIS_ADDR (default localhost:6379) or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisFeed_PublishWatchUnsubscribe(t *testing.T) {
	client := newTestRedis(t)
	f := NewRedisFeed(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sid := uuid.New()
	ch, err := f.Watch(ctx, sid, TopicLikes)
	require.NoError(t, err)

	numSub := func() int64 {
		counts, err := client.PubSubNumSub(context.Background(), channelName(sid)).Result()
		require.NoError(t, err)
		return counts[channelName(sid)]
	}
	assert.Equal(t, int64(1), numSub())

	// A second watcher shares the instance's subscription.
	ctx2, cancel2 := context.WithCancel(context.Background())
	_, err = f.Watch(ctx2, sid, TopicMessages)
	require.NoError(t, err)
	assert.Equal(t, int64(1), numSub())
	cancel2()

	require.NoError(t, f.Publish(ctx, sid, TopicMessages))
	require.NoError(t, f.Publish(ctx, sid, TopicLikes))
	select {
	case got := <-ch:
		assert.Equal(t, TopicLikes, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification over redis")
	}

	cancel()
	assert.Eventually(t, func() bool { return numSub() == 0 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, f.fan.watchers(sid))
}

func TestRedisFeed_WatchFailsWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	f := NewRedisFeed(client, nil)

	_, err := f.Watch(context.Background(), uuid.New(), TopicLikes)
	assert.Error(t, err)
}
