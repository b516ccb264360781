// Package archive writes the chat transcript of an ended session to object storage.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/sessions"
	"github.com/aura-market/backend/pkg/queue"
	"github.com/aura-market/backend/pkg/storage"
)

const pageSize = 500

// ErrStillLive is returned when archiving a session that has not ended.
var ErrStillLive = errors.New("session is still live")

// ObjectStore is the subset of pkg/storage.S3 used for transcripts.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// Enqueuer schedules archive jobs.
type Enqueuer interface {
	EnqueueTranscriptArchive(ctx context.Context, payload queue.TranscriptArchivePayload) error
}

// Transcript is the archived document.
type Transcript struct {
	Session    models.LiveSession   `json:"session"`
	Messages   []models.ChatMessage `json:"messages"`
	ArchivedAt time.Time            `json:"archived_at"`
}

// Archiver builds and uploads transcripts.
type Archiver struct {
	store   livestore.Store
	objects ObjectStore
	logger  *zap.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(store livestore.Store, objects ObjectStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, objects: objects, logger: logger}
}

// Key returns the object key of the session's transcript.
func Key(s *models.LiveSession) string {
	return storage.TranscriptKey(s.SellerID, s.ID.String())
}

// Archive uploads the full transcript of an ended session and returns its key.
// Archiving twice overwrites the object with identical messages.
func (a *Archiver) Archive(ctx context.Context, sessionID uuid.UUID) (string, error) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.IsLive() {
		return "", ErrStillLive
	}
	t := Transcript{Session: *sess, Messages: []models.ChatMessage{}, ArchivedAt: time.Now().UTC()}
	var after int64
	for {
		page, err := a.store.ListMessages(ctx, sessionID, after, pageSize)
		if err != nil {
			return "", fmt.Errorf("list messages: %w", err)
		}
		t.Messages = append(t.Messages, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].Seq
	}
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	key := Key(sess)
	if err := a.objects.Put(ctx, key, "application/json", body); err != nil {
		return "", err
	}
	a.logger.Info("transcript archived",
		zap.String("session_id", sessionID.String()),
		zap.String("key", key),
		zap.Int("messages", len(t.Messages)),
	)
	return key, nil
}

// EnqueueOnEnd returns a session hook that schedules archiving when a session ends.
func EnqueueOnEnd(q Enqueuer, logger *zap.Logger) sessions.EndedHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, s *models.LiveSession) {
		err := q.EnqueueTranscriptArchive(ctx, queue.TranscriptArchivePayload{SessionID: s.ID, SellerID: s.SellerID})
		if err != nil {
			logger.Error("enqueue transcript archive", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
}
