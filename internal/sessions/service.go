// Package sessions is the live session registry: start/end lifecycle, the
// one-live-session-per-seller rule, and discovery of active sessions.
package sessions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/stream"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxTitleLength  = 120
)

// Seller is the identity starting a session.
type Seller struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// EndedHook is notified after a session transitions to ended (e.g. to enqueue archiving).
type EndedHook func(ctx context.Context, s *models.LiveSession)

// Service owns session lifecycle.
type Service struct {
	store   livestore.Store
	logger  *zap.Logger
	resync  time.Duration
	onEnded []EndedHook
}

// NewService creates a session registry over store.
func NewService(store livestore.Store, resync time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, resync: resync, logger: logger}
}

// OnEnded registers a hook run after EndSession ends a live session.
func (s *Service) OnEnded(h EndedHook) {
	s.onEnded = append(s.onEnded, h)
}

// StartSession creates a live session for the seller.
func (s *Service) StartSession(ctx context.Context, seller Seller, title string) (*models.LiveSession, error) {
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > maxTitleLength {
		return nil, models.ErrInvalidTitle
	}
	sess := &models.LiveSession{
		SellerID:          seller.ID,
		SellerDisplayName: seller.DisplayName,
		SellerAvatarRef:   seller.AvatarRef,
		Title:             title,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("live session started", zap.String("session_id", sess.ID.String()), zap.String("seller_id", seller.ID))
	return sess, nil
}

// EndSession ends the seller's live session and removes its viewers.
// If the seller's latest session has already ended it is returned without error;
// ErrNotFound means the seller never went live.
func (s *Service) EndSession(ctx context.Context, sellerID string) (*models.LiveSession, error) {
	active, err := s.store.GetActiveSessionBySeller(ctx, sellerID)
	if errors.Is(err, models.ErrNotFound) {
		return s.store.GetLatestSessionBySeller(ctx, sellerID)
	}
	if err != nil {
		return nil, err
	}
	ended, transitioned, err := s.store.EndSession(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return ended, nil
	}
	s.logger.Info("live session ended",
		zap.String("session_id", ended.ID.String()),
		zap.String("seller_id", sellerID),
		zap.Int64("likes", ended.LikeCount),
		zap.Int("peak_viewers", ended.PeakViewers),
	)
	for _, h := range s.onEnded {
		h(ctx, ended)
	}
	return ended, nil
}

// GetActiveSession returns the seller's live session or ErrNotFound.
func (s *Service) GetActiveSession(ctx context.Context, sellerID string) (*models.LiveSession, error) {
	return s.store.GetActiveSessionBySeller(ctx, sellerID)
}

// GetSession returns a session in any status.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.store.GetSession(ctx, id)
}

// GetLiveSession returns the session only while it is live.
func (s *Service) GetLiveSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsLive() {
		return nil, models.ErrNotFound
	}
	return sess, nil
}

// Page is one page of the active-sessions listing.
type Page struct {
	Sessions   []models.LiveSession `json:"sessions"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ListActivePage returns up to limit live sessions after cursor ("" for the first page).
func (s *Service) ListActivePage(ctx context.Context, cursor string, limit int) (*Page, error) {
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampPageSize(limit)
	list, err := s.store.ListActiveSessions(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	page := &Page{Sessions: list}
	if page.Sessions == nil {
		page.Sessions = []models.LiveSession{}
	}
	if len(list) == limit {
		page.NextCursor = EncodeCursor(livestore.CursorAfter(list[len(list)-1]))
	}
	return page, nil
}

// ListActiveSessions lazily yields every live session, newest first, fetching
// pageSize at a time. Each range over the sequence starts again from the newest.
func (s *Service) ListActiveSessions(ctx context.Context, pageSize int) iter.Seq2[models.LiveSession, error] {
	pageSize = clampPageSize(pageSize)
	return func(yield func(models.LiveSession, error) bool) {
		var after *livestore.Cursor
		for {
			list, err := s.store.ListActiveSessions(ctx, after, pageSize)
			if err != nil {
				yield(models.LiveSession{}, err)
				return
			}
			for _, sess := range list {
				if !yield(sess, nil) {
					return
				}
			}
			if len(list) < pageSize {
				return
			}
			after = livestore.CursorAfter(list[len(list)-1])
		}
	}
}

// Subscribe streams the session document; the last value after an end has Status ended.
func (s *Service) Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.LiveSession, error) {
	changes, err := s.store.Watch(ctx, id, livestore.TopicSession)
	if err != nil {
		return nil, err
	}
	first, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) (models.LiveSession, error) {
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			return models.LiveSession{}, err
		}
		return *sess, nil
	}
	return stream.Follow(ctx, *first, changes, load, stream.Options[models.LiveSession]{
		Resync: s.resync,
		Equal:  func(a, b models.LiveSession) bool { return a.Status == b.Status },
		Logger: s.logger,
		Name:   "session",
	}), nil
}

func clampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// EncodeCursor renders c as an opaque URL-safe token.
func EncodeCursor(c *livestore.Cursor) string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor; "" yields nil.
func DecodeCursor(token string) (*livestore.Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, models.ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, models.ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCursor, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCursor, err)
	}
	return &livestore.Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: uid}, nil
}
