package livestore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const watcherBuffer = 64

type watcher struct {
	ch     chan Topic
	topics map[Topic]struct{}
}

func (w *watcher) wants(t Topic) bool {
	if len(w.topics) == 0 {
		return true
	}
	_, ok := w.topics[t]
	return ok
}

// upstreamOpener opens an upstream subscription for a session and returns its close func.
// It runs without the fanout lock held.
type upstreamOpener func(sessionID uuid.UUID) (closeFn func(), err error)

// sessionWatchers is the watcher set of one session plus the state of its upstream.
type sessionWatchers struct {
	set map[*watcher]struct{}
	// ready is closed once the upstream open attempt finished; err and closeFn are valid after.
	ready   chan struct{}
	err     error
	closeFn func()
	// detached is set when the entry left the session map.
	detached bool
}

// fanout delivers notifications to in-process watchers.
// A watcher only receives its own topics, so dropping a notification on a full buffer
// is harmless: the consumer re-reads state after each one it does receive.
type fanout struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionWatchers
	open     upstreamOpener
}

func newFanout() *fanout {
	return &fanout{sessions: make(map[uuid.UUID]*sessionWatchers)}
}

func (f *fanout) watch(ctx context.Context, sessionID uuid.UUID, topics []Topic) (<-chan Topic, error) {
	w := &watcher{ch: make(chan Topic, watcherBuffer)}
	if len(topics) > 0 {
		w.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			w.topics[t] = struct{}{}
		}
	}

	f.mu.Lock()
	e := f.sessions[sessionID]
	opener := e == nil
	if opener {
		e = &sessionWatchers{set: make(map[*watcher]struct{}), ready: make(chan struct{})}
		if f.open == nil {
			close(e.ready)
		}
		f.sessions[sessionID] = e
	}
	e.set[w] = struct{}{}
	f.mu.Unlock()

	if opener && f.open != nil {
		closeFn, err := f.open(sessionID)
		f.mu.Lock()
		e.err, e.closeFn = err, closeFn
		close(e.ready)
		if err != nil {
			f.detach(sessionID, e)
		}
		f.mu.Unlock()
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		f.mu.Lock()
		f.remove(sessionID, e, w)
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.remove(sessionID, e, w)
		close(w.ch)
	}()
	return w.ch, nil
}

// remove drops w and closes the upstream after the last watcher. Caller holds f.mu.
// The opener stays in the set until its open returns, so an emptied set has a finished open.
func (f *fanout) remove(sessionID uuid.UUID, e *sessionWatchers, w *watcher) {
	delete(e.set, w)
	if len(e.set) > 0 || e.detached {
		return
	}
	f.detach(sessionID, e)
	if e.closeFn != nil {
		e.closeFn()
	}
}

// detach takes e out of the session map. Caller holds f.mu.
func (f *fanout) detach(sessionID uuid.UUID, e *sessionWatchers) {
	e.detached = true
	if f.sessions[sessionID] == e {
		delete(f.sessions, sessionID)
	}
}

func (f *fanout) dispatch(sessionID uuid.UUID, t Topic) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e := f.sessions[sessionID]
	if e == nil {
		return
	}
	for w := range e.set {
		if !w.wants(t) {
			continue
		}
		select {
		case w.ch <- t:
		default:
		}
	}
}

func (f *fanout) watchers(sessionID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if e := f.sessions[sessionID]; e != nil {
		return len(e.set)
	}
	return 0
}
