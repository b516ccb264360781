package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/queue"
)

type memObjects struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemObjects() *memObjects { return &memObjects{objs: make(map[string][]byte)} }

func (m *memObjects) Put(_ context.Context, key, _ string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = body
	return nil
}

func (m *memObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	return ok, nil
}

func (m *memObjects) PresignedDownloadURL(_ context.Context, key string) (string, error) {
	return "https://example.test/" + key, nil
}

func liveWithMessages(t *testing.T, store *livestore.Memory, n int) *models.LiveSession {
	t.Helper()
	ctx := context.Background()
	s := &models.LiveSession{SellerID: "s1", Title: "Live"}
	require.NoError(t, store.CreateSession(ctx, s))
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendMessage(ctx, &models.ChatMessage{ID: fmt.Sprint(i), SessionID: s.ID, Text: fmt.Sprint(i)}))
	}
	return s
}

func TestArchive_WritesAllMessagesOfEndedSession(t *testing.T) {
	ctx := context.Background()
	store := livestore.NewMemory()
	objs := newMemObjects()
	a := NewArchiver(store, objs, nil)
	s := liveWithMessages(t, store, pageSize+3)

	_, err := a.Archive(ctx, s.ID)
	assert.ErrorIs(t, err, ErrStillLive)

	_, _, err = store.EndSession(ctx, s.ID)
	require.NoError(t, err)
	key, err := a.Archive(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "transcripts/s1/"+s.ID.String()+".json", key)

	var tr Transcript
	require.NoError(t, json.Unmarshal(objs.objs[key], &tr))
	assert.Equal(t, models.StatusEnded, tr.Session.Status)
	require.Len(t, tr.Messages, pageSize+3)
	for i := 1; i < len(tr.Messages); i++ {
		assert.Greater(t, tr.Messages[i].Seq, tr.Messages[i-1].Seq)
	}
}

type recordingQueue struct {
	got []queue.TranscriptArchivePayload
	err error
}

func (q *recordingQueue) EnqueueTranscriptArchive(_ context.Context, p queue.TranscriptArchivePayload) error {
	q.got = append(q.got, p)
	return q.err
}

func TestEnqueueOnEnd(t *testing.T) {
	q := &recordingQueue{}
	s := &models.LiveSession{SellerID: "s1"}
	EnqueueOnEnd(q, nil)(context.Background(), s)
	require.Len(t, q.got, 1)
	assert.Equal(t, s.ID, q.got[0].SessionID)

	q.err = errors.New("redis down")
	EnqueueOnEnd(q, nil)(context.Background(), s)
	assert.Len(t, q.got, 2)
}

func TestHandler_Transcript(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := livestore.NewMemory()
	objs := newMemObjects()
	s := liveWithMessages(t, store, 2)
	h := NewHandler(store, objs, zap.NewNop())

	get := func(userID string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(middleware.ContextIdentity, models.Identity{UserID: userID}) })
		r.GET("/sessions/:id/transcript", h.Transcript)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID.String()+"/transcript", nil))
		return w
	}

	assert.Equal(t, http.StatusConflict, get("s1").Code)
	_, _, err := store.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get("other").Code)
	assert.Equal(t, http.StatusNotFound, get("s1").Code)

	_, err = NewArchiver(store, objs, nil).Archive(ctx, s.ID)
	require.NoError(t, err)
	w := get("s1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.test/transcripts/s1/")
}
