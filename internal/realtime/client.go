package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/chat"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/presence"
	"github.com/aura-market/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server to client events.
const (
	EventViewers         = "viewers"
	EventChatMessage     = "chat_message"
	EventLikeCount       = "like_count"
	EventFeaturedProduct = "featured_product"
	EventSessionEnded    = "session_ended"
	EventError           = "error"
)

// Client to server commands.
const (
	CmdChatMessage    = "chat_message"
	CmdLike           = "like"
	CmdHeartbeat      = "heartbeat"
	CmdFeatureProduct = "feature_product"
	CmdClearFeatured  = "clear_featured"
)

const maxMessageSize = 8192

var (
	errSessionEnded = errors.New("session ended")
	errClientClosed = errors.New("client closed connection")
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ViewersEvent is the payload of EventViewers.
type ViewersEvent struct {
	Count   int             `json:"count"`
	Viewers []models.Viewer `json:"viewers"`
}

// LikeCountEvent is the payload of EventLikeCount.
type LikeCountEvent struct {
	LikeCount int64 `json:"like_count"`
}

// FeaturedProductEvent is the payload of EventFeaturedProduct; a nil product means cleared.
type FeaturedProductEvent struct {
	Product *models.ProductSummary `json:"product"`
}

// ErrorEvent reports a rejected command.
type ErrorEvent struct {
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}

type chatCommand struct {
	Text string `json:"text"`
}

// IdentityFunc resolves a bearer token to the caller identity.
type IdentityFunc func(token string) (models.Identity, error)

// Client is a single WebSocket connection to a live session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	Identity  models.Identity
	// IsSeller is set for the session owner's connection, which never counts as a viewer.
	IsSeller bool

	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	cancel context.CancelFunc
	logger *zap.Logger
}

// ServeWs handles GET /ws?session_id=&token=&after_seq=.
func ServeWs(hub *Hub, identify IdentityFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			response.BadRequest(c, "session_id and token required")
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
		if err != nil || afterSeq < 0 {
			response.BadRequest(c, "invalid after_seq")
			return
		}
		identity, err := identify(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		sess, err := hub.svc.Sessions.GetLiveSession(c.Request.Context(), sessionID)
		if err != nil {
			apierr.Respond(c, hub.logger, err)
			return
		}

		ctx, cancel, done, err := hub.admit()
		if err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		defer done()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			cancel()
			hub.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Identity:  identity,
			IsSeller:  identity.UserID == sess.SellerID,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, sendBuffer),
			cancel:    cancel,
			logger:    hub.logger,
		}
		client.run(ctx, afterSeq)
	}
}

func (c *Client) run(ctx context.Context, afterSeq int64) {
	defer c.cancel()
	defer c.conn.Close()
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	if !c.IsSeller {
		att, err := c.hub.svc.Presence.Attend(ctx, c.SessionID, c.Identity.UserID, c.Identity.DisplayName)
		if err != nil {
			c.reject(err)
			return
		}
		defer att.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := c.subscribe(gctx, g, afterSeq); err != nil {
		c.reject(err)
		return
	}
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error { return c.readPump(gctx) })

	err := g.Wait()
	c.logger.Debug("client loop ended",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
		zap.NamedError("reason", err),
	)
}

// subscribe opens every session stream and starts one forwarder per stream.
func (c *Client) subscribe(ctx context.Context, g *errgroup.Group, afterSeq int64) error {
	svc := c.hub.svc
	sessCh, err := svc.Sessions.Subscribe(ctx, c.SessionID)
	if err != nil {
		return err
	}
	viewers, err := svc.Presence.Subscribe(ctx, c.SessionID)
	if err != nil {
		return err
	}
	messages, err := svc.Chat.Subscribe(ctx, c.SessionID, afterSeq)
	if err != nil {
		return err
	}
	likes, err := svc.Likes.Subscribe(ctx, c.SessionID)
	if err != nil {
		return err
	}
	featured, err := svc.Featured.Subscribe(ctx, c.SessionID)
	if err != nil {
		return err
	}

	g.Go(func() error {
		for s := range sessCh {
			if s.Status == models.StatusEnded {
				if err := c.enqueue(ctx, EventSessionEnded, s); err != nil {
					return err
				}
				return errSessionEnded
			}
		}
		return ctx.Err()
	})
	g.Go(forward(ctx, c, viewers, EventViewers, func(set presence.ViewerSet) any {
		list := []models.Viewer(set)
		if list == nil {
			list = []models.Viewer{}
		}
		return ViewersEvent{Count: set.Count(), Viewers: list}
	}))
	g.Go(forward(ctx, c, messages, EventChatMessage, func(m models.ChatMessage) any { return m }))
	g.Go(forward(ctx, c, likes, EventLikeCount, func(n int64) any { return LikeCountEvent{LikeCount: n} }))
	g.Go(forward(ctx, c, featured, EventFeaturedProduct, func(p *models.ProductSummary) any {
		return FeaturedProductEvent{Product: p}
	}))
	return nil
}

func forward[T any](ctx context.Context, c *Client, in <-chan T, event string, wrap func(T) any) func() error {
	return func() error {
		for v := range in {
			if err := c.enqueue(ctx, event, wrap(v)); err != nil {
				return err
			}
		}
		return ctx.Err()
	}
}

// enqueue queues an event for the write pump, waiting while the buffer is full.
func (c *Client) enqueue(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reject writes a single error event and closes the socket.
func (c *Client) reject(err error) {
	data, _ := json.Marshal(ErrorEvent{Error: err.Error()})
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(WSMessage{Event: EventError, Data: data})
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
}

func (c *Client) readPump(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errClientClosed, err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if err := c.handle(ctx, msg); err != nil {
			if err := c.enqueue(ctx, EventError, ErrorEvent{Command: msg.Event, Error: err.Error()}); err != nil {
				return err
			}
		}
	}
}

// handle runs one client command. Results reach the client through the session streams.
func (c *Client) handle(ctx context.Context, msg WSMessage) error {
	svc := c.hub.svc
	switch msg.Event {
	case CmdChatMessage:
		var cmd chatCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return errors.New("invalid chat_message payload")
		}
		_, err := svc.Chat.Send(ctx, c.SessionID, chat.Sender{ID: c.Identity.UserID, DisplayName: c.Identity.DisplayName}, cmd.Text)
		return err
	case CmdLike:
		_, err := svc.Likes.Like(ctx, c.SessionID)
		return err
	case CmdHeartbeat:
		if c.IsSeller {
			return nil
		}
		return svc.Presence.Heartbeat(ctx, c.SessionID, c.Identity.UserID)
	case CmdFeatureProduct:
		if !c.IsSeller {
			return models.ErrForbidden
		}
		var p models.ProductSummary
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return models.ErrInvalidProduct
		}
		return svc.Featured.SetFeaturedProduct(ctx, c.SessionID, p)
	case CmdClearFeatured:
		if !c.IsSeller {
			return models.ErrForbidden
		}
		return svc.Featured.ClearFeaturedProduct(ctx, c.SessionID)
	default:
		return fmt.Errorf("unknown command %q", msg.Event)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// flush writes whatever is still queued, e.g. the session_ended event.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
