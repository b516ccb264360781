package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-market/backend/internal/broadcast"
	"github.com/aura-market/backend/internal/chat"
	"github.com/aura-market/backend/internal/engagement"
	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/presence"
	"github.com/aura-market/backend/internal/sessions"
)

var identities = map[string]models.Identity{
	"seller-token": {UserID: "s1", DisplayName: "Ann", Role: models.RoleSeller},
	"viewer-token": {UserID: "b1", DisplayName: "Bo", Role: models.RoleBuyer},
}

func identify(token string) (models.Identity, error) {
	id, ok := identities[token]
	if !ok {
		return models.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

type gateway struct {
	svc Services
	hub *Hub
	srv *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := livestore.NewMemory()
	svc := Services{
		Sessions: sessions.NewService(store, 0, nil),
		Presence: presence.NewTracker(store, presence.Config{}, nil),
		Chat:     chat.NewChannel(store, chat.Config{}, nil),
		Likes:    engagement.NewCounter(store, 0, nil),
		Featured: broadcast.NewService(store, 0, nil),
	}
	hub := NewHub(svc, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, identify))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, hub.Shutdown(ctx))
		srv.Close()
	})
	return &gateway{svc: svc, hub: hub, srv: srv}
}

func (g *gateway) dial(t *testing.T, sessionID uuid.UUID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws?session_id=" + sessionID.String() + "&token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads events until one named event satisfies ok.
func readUntil(t *testing.T, conn *websocket.Conn, event string, ok func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event && (ok == nil || ok(msg.Data)) {
			return msg.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: data}))
}

func viewerCount(n int) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var ev ViewersEvent
		return json.Unmarshal(data, &ev) == nil && ev.Count == n
	}
}

func TestGateway_ViewerLifecycle(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	sess, err := g.svc.Sessions.StartSession(ctx, sessions.Seller{ID: "s1", DisplayName: "Ann"}, "Spring drop")
	require.NoError(t, err)

	viewer, _, err := g.dial(t, sess.ID, "viewer-token")
	require.NoError(t, err)
	defer viewer.Close()
	readUntil(t, viewer, EventViewers, viewerCount(1))

	seller, _, err := g.dial(t, sess.ID, "seller-token")
	require.NoError(t, err)
	defer seller.Close()

	n, err := g.svc.Presence.Count(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "seller socket must not count as a viewer")

	send(t, viewer, CmdChatMessage, map[string]string{"text": "hello"})
	data := readUntil(t, viewer, EventChatMessage, nil)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "Bo", msg.SenderDisplayName)

	send(t, viewer, CmdLike, nil)
	readUntil(t, viewer, EventLikeCount, func(data json.RawMessage) bool {
		var ev LikeCountEvent
		return json.Unmarshal(data, &ev) == nil && ev.LikeCount == 1
	})

	send(t, viewer, CmdFeatureProduct, models.ProductSummary{ProductID: "p1", Name: "Mug", Price: 100})
	data = readUntil(t, viewer, EventError, nil)
	assert.Contains(t, string(data), models.ErrForbidden.Error())

	send(t, seller, CmdFeatureProduct, models.ProductSummary{ProductID: "p1", Name: "Mug", Price: 100})
	readUntil(t, viewer, EventFeaturedProduct, func(data json.RawMessage) bool {
		var ev FeaturedProductEvent
		return json.Unmarshal(data, &ev) == nil && ev.Product != nil && ev.Product.ProductID == "p1"
	})

	_, err = g.svc.Sessions.EndSession(ctx, "s1")
	require.NoError(t, err)
	readUntil(t, viewer, EventSessionEnded, nil)

	n, err = g.svc.Presence.Count(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGateway_DisconnectLeaves(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	sess, err := g.svc.Sessions.StartSession(ctx, sessions.Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	viewer, _, err := g.dial(t, sess.ID, "viewer-token")
	require.NoError(t, err)
	readUntil(t, viewer, EventViewers, viewerCount(1))
	require.NoError(t, viewer.Close())

	assert.Eventually(t, func() bool {
		n, err := g.svc.Presence.Count(ctx, sess.ID)
		return err == nil && n == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGateway_RejectsEndedSessionAndBadToken(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	sess, err := g.svc.Sessions.StartSession(ctx, sessions.Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	_, resp, err := g.dial(t, sess.ID, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = g.svc.Sessions.EndSession(ctx, "s1")
	require.NoError(t, err)
	_, resp, err = g.dial(t, sess.ID, "viewer-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_ShutdownWaitsForViewersToLeave(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)
	sess, err := g.svc.Sessions.StartSession(ctx, sessions.Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	viewer, _, err := g.dial(t, sess.ID, "viewer-token")
	require.NoError(t, err)
	defer viewer.Close()
	readUntil(t, viewer, EventViewers, viewerCount(1))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, g.hub.Shutdown(shutdownCtx))

	// No polling: the viewer record is gone once Shutdown returns.
	n, err := g.svc.Presence.Count(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, g.hub.Connections(sess.ID))

	_, resp, err := g.dial(t, sess.ID, "viewer-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
