// Package stream turns change notifications into latest-value snapshot streams.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Loader reads the current value of a snapshot.
type Loader[T any] func(ctx context.Context) (T, error)

// Options tunes Follow.
type Options[T any] struct {
	// Resync re-reads the snapshot periodically so a lost notification only delays delivery.
	// Zero disables it.
	Resync time.Duration
	// Equal suppresses redelivery of an unchanged value. Nil delivers every reload.
	Equal  func(a, b T) bool
	Logger *zap.Logger
	Name   string
}

// Follow delivers first, then the latest loaded value after every notification on changes
// and every resync tick. A slow consumer only ever sees the newest value; intermediate
// values may be skipped. A failed reload keeps the last known value.
// The returned channel is closed when ctx is done.
func Follow[T, E any](ctx context.Context, first T, changes <-chan E, load Loader[T], opts Options[T]) <-chan T {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(chan T)
	go func() {
		defer close(out)

		var tick <-chan time.Time
		if opts.Resync > 0 {
			ticker := time.NewTicker(opts.Resync)
			defer ticker.Stop()
			tick = ticker.C
		}

		last := first
		pending := true
		reload := func() {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("snapshot reload failed, keeping last value", zap.String("stream", opts.Name), zap.Error(err))
				}
				return
			}
			if opts.Equal != nil && opts.Equal(v, last) {
				return
			}
			last = v
			pending = true
		}

		for {
			var send chan<- T
			if pending {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case send <- last:
				pending = false
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				reload()
			case <-tick:
				reload()
			}
		}
	}()
	return out
}
