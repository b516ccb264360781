// Package realtime is the WebSocket gateway: one connection per viewer or seller,
// fed by the live session streams and accepting chat, like and seller commands.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/broadcast"
	"github.com/aura-market/backend/internal/chat"
	"github.com/aura-market/backend/internal/engagement"
	"github.com/aura-market/backend/internal/presence"
	"github.com/aura-market/backend/internal/sessions"
)

const (
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Services are the live-core components a connection is wired to.
type Services struct {
	Sessions *sessions.Service
	Presence *presence.Tracker
	Chat     *chat.Channel
	Likes    *engagement.Counter
	Featured *broadcast.Service
}

var errShuttingDown = errors.New("gateway shutting down")

// Hub tracks open connections per session.
type Hub struct {
	svc      Services
	sessions map[uuid.UUID]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger

	// ctx is the parent of every connection context; Shutdown cancels it.
	ctx     context.Context
	stop    context.CancelFunc
	closing bool
	conns   sync.WaitGroup
}

// NewHub creates a WebSocket hub.
func NewHub(svc Services, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Hub{
		svc:      svc,
		sessions: make(map[uuid.UUID]map[string]*Client),
		logger:   logger,
		ctx:      ctx,
		stop:     stop,
	}
}

// admit reserves a slot for a new connection and returns its context.
// The caller must call done once the connection has fully ended.
func (h *Hub) admit() (ctx context.Context, cancel context.CancelFunc, done func(), err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return nil, nil, nil, errShuttingDown
	}
	h.conns.Add(1)
	ctx, cancel = context.WithCancel(h.ctx)
	return ctx, cancel, h.conns.Done, nil
}

// Register adds a client to its session room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
		zap.String("user_id", c.Identity.UserID),
		zap.Bool("seller", c.IsSeller),
	)
}

// Unregister removes a client from its session room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Connections returns the number of sockets open on this instance for a session.
func (h *Hub) Connections(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Shutdown refuses new connections, disconnects every client and waits until each
// one has finished, including the Leave of its viewer attendance, or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
