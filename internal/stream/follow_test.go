package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLoader returns value, or err while err is set.
type flakyLoader struct {
	mu    sync.Mutex
	value int
	err   error
	calls int
}

func (l *flakyLoader) set(v int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.err = v, err
}

func (l *flakyLoader) load(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.value, l.err
}

func (l *flakyLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("no value")
		return 0
	}
}

func assertSilent(t *testing.T, ch <-chan int) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollow_KeepsLastValueThroughOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &flakyLoader{}
	changes := make(chan struct{})
	out := Follow(ctx, 0, changes, loader.load, Options[int]{Equal: func(a, b int) bool { return a == b }})
	assert.Equal(t, 0, recv(t, out))

	loader.set(0, errors.New("store unavailable"))
	changes <- struct{}{}
	changes <- struct{}{}
	require.Eventually(t, func() bool { return loader.callCount() == 2 }, time.Second, 5*time.Millisecond)
	assertSilent(t, out)

	loader.set(1, nil)
	changes <- struct{}{}
	assert.Equal(t, 1, recv(t, out))
}

func TestFollow_SuppressesUnchangedValues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &flakyLoader{value: 7}
	changes := make(chan struct{})
	out := Follow(ctx, 7, changes, loader.load, Options[int]{Equal: func(a, b int) bool { return a == b }})
	assert.Equal(t, 7, recv(t, out))

	changes <- struct{}{}
	require.Eventually(t, func() bool { return loader.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assertSilent(t, out)
}

func TestFollow_SlowConsumerSeesLatest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &flakyLoader{}
	changes := make(chan struct{})
	out := Follow(ctx, 0, changes, loader.load, Options[int]{})
	assert.Equal(t, 0, recv(t, out))

	for i := 1; i <= 5; i++ {
		loader.set(i, nil)
		changes <- struct{}{}
	}
	require.Eventually(t, func() bool { return loader.callCount() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, recv(t, out))
}

func TestFollow_ResyncRecoversWithoutNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := &flakyLoader{value: 3}
	out := Follow[int, struct{}](ctx, 0, nil, loader.load, Options[int]{Resync: 10 * time.Millisecond})
	assert.Equal(t, 0, recv(t, out))
	assert.Equal(t, 3, recv(t, out))
}

func TestFollow_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Follow(ctx, 0, make(chan struct{}), (&flakyLoader{}).load, Options[int]{})
	assert.Equal(t, 0, recv(t, out))
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-out:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
