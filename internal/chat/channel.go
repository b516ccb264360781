// Package chat is the per-session message channel: ordered, append-only, with
// backlog replay for late subscribers.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
)

const (
	DefaultMaxMessageLength = 500
	DefaultHistoryLimit     = 50
	MaxHistoryLimit         = 200
	fetchBatch              = 100
)

// Sender identifies the author of a message.
type Sender struct {
	ID          string
	DisplayName string
}

// Config tunes the channel.
type Config struct {
	MaxMessageLength int
	// Resync polls for new messages periodically in case a notification was lost.
	Resync time.Duration
}

// Channel sends and streams chat messages.
type Channel struct {
	store  livestore.Store
	cfg    Config
	logger *zap.Logger
}

// NewChannel creates a message channel.
func NewChannel(store livestore.Store, cfg Config, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Channel{store: store, cfg: cfg, logger: logger}
}

// Send appends a message. Blank text is rejected with ErrEmptyMessage and nothing is stored.
func (ch *Channel) Send(ctx context.Context, sessionID uuid.UUID, from Sender, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > ch.cfg.MaxMessageLength {
		return nil, models.ErrMessageTooLong
	}
	msg := &models.ChatMessage{
		ID:                ulid.Make().String(),
		SessionID:         sessionID,
		SenderID:          from.ID,
		SenderDisplayName: from.DisplayName,
		Text:              text,
	}
	if err := ch.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns up to limit messages with seq greater than afterSeq, oldest first.
func (ch *Channel) History(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	if _, err := ch.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return ch.store.ListMessages(ctx, sessionID, afterSeq, limit)
}

// Subscribe delivers every message with seq greater than afterSeq in send order,
// then each new message as it arrives. Delivery blocks on the consumer; nothing is
// skipped or repeated. The channel is closed when ctx is done.
func (ch *Channel) Subscribe(ctx context.Context, sessionID uuid.UUID, afterSeq int64) (<-chan models.ChatMessage, error) {
	if _, err := ch.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	changes, err := ch.store.Watch(ctx, sessionID, livestore.TopicMessages)
	if err != nil {
		return nil, err
	}
	out := make(chan models.ChatMessage)
	go ch.pump(ctx, sessionID, afterSeq, changes, out)
	return out, nil
}

func (ch *Channel) pump(ctx context.Context, sessionID uuid.UUID, cursor int64, changes <-chan livestore.Topic, out chan<- models.ChatMessage) {
	defer close(out)

	var tick <-chan time.Time
	if ch.cfg.Resync > 0 {
		ticker := time.NewTicker(ch.cfg.Resync)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for {
			batch, err := ch.store.ListMessages(ctx, sessionID, cursor, fetchBatch)
			if err != nil {
				if ctx.Err() == nil {
					ch.logger.Warn("chat backlog read failed", zap.String("session_id", sessionID.String()), zap.Error(err))
				}
				break
			}
			for _, m := range batch {
				select {
				case out <- m:
					cursor = m.Seq
				case <-ctx.Done():
					return
				}
			}
			if len(batch) < fetchBatch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		case <-tick:
		}
	}
}
