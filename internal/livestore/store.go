// Package livestore is the real-time document store behind live sessions: session,
// viewer and chat documents plus a per-session change feed.
package livestore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-market/backend/internal/models"
)

// Topic names the part of a session document tree that changed.
type Topic string

const (
	TopicSession  Topic = "session"
	TopicViewers  Topic = "viewers"
	TopicMessages Topic = "messages"
	TopicLikes    Topic = "likes"
	TopicFeatured Topic = "featured"
)

// Cursor is a keyset position in the active-sessions listing (created_at DESC, id DESC).
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the cursor positioned after s.
func CursorAfter(s models.LiveSession) *Cursor {
	return &Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
}

// Store is the document store collaborator. Every successful write publishes the
// matching Topic on the session's change feed after it is durable.
//
// Implementations return models.ErrNotFound for unknown or ended sessions on writes,
// models.ErrAlreadyLive from CreateSession, and wrap connectivity failures in
// models.ErrStoreUnavailable.
type Store interface {
	// CreateSession inserts s as live. ID and CreatedAt are assigned by the store.
	CreateSession(ctx context.Context, s *models.LiveSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	GetActiveSessionBySeller(ctx context.Context, sellerID string) (*models.LiveSession, error)
	// GetLatestSessionBySeller returns the seller's most recent session in any status.
	GetLatestSessionBySeller(ctx context.Context, sellerID string) (*models.LiveSession, error)
	// EndSession marks the session ended and deletes its viewers atomically.
	// Ending an ended session returns it unchanged with ended false; ended is true
	// only for the call that performed the transition.
	EndSession(ctx context.Context, id uuid.UUID) (sess *models.LiveSession, ended bool, err error)
	ListActiveSessions(ctx context.Context, after *Cursor, limit int) ([]models.LiveSession, error)

	// IncrementLikes atomically adds delta to like_count and returns the new value.
	IncrementLikes(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
	// SetFeaturedProduct overwrites the featured product; nil clears it.
	SetFeaturedProduct(ctx context.Context, id uuid.UUID, p *models.ProductSummary) error
	// RaisePeakViewers stores count as peak_viewers if it exceeds the current peak.
	RaisePeakViewers(ctx context.Context, id uuid.UUID, count int) error

	// UpsertViewer joins v or renews its lease. created is true when the viewer was
	// not attending before (no record, or an expired lease).
	UpsertViewer(ctx context.Context, v *models.Viewer, ttl time.Duration) (created bool, err error)
	RenewViewer(ctx context.Context, sessionID uuid.UUID, viewerID string, ttl time.Duration) error
	DeleteViewer(ctx context.Context, sessionID uuid.UUID, viewerID string) (bool, error)
	// ListViewers returns viewers whose lease has not expired, oldest join first.
	ListViewers(ctx context.Context, sessionID uuid.UUID) ([]models.Viewer, error)
	// DeleteExpiredViewers removes lapsed leases and returns the removed count per session.
	DeleteExpiredViewers(ctx context.Context) (map[uuid.UUID]int, error)

	// AppendMessage stores m, assigning Seq and a SentAt later than every earlier
	// message of the session.
	AppendMessage(ctx context.Context, m *models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error)

	// Watch streams change notifications for the session, restricted to topics when
	// any are given. The channel is closed when ctx is done.
	Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error)
}
