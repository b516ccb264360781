package livestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-market/backend/internal/models"
)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the server clock used for createdAt, joinedAt, sentAt and leases.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

type viewerKey struct {
	session uuid.UUID
	viewer  string
}

// Memory is an in-process Store for tests and single-instance development.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[uuid.UUID]*models.LiveSession
	live     map[string]uuid.UUID // seller_id -> live session
	viewers  map[viewerKey]*models.Viewer
	messages map[uuid.UUID][]models.ChatMessage
	lastSent map[uuid.UUID]time.Time
	seq      int64
	feed     *fanout
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:      time.Now,
		sessions: make(map[uuid.UUID]*models.LiveSession),
		live:     make(map[string]uuid.UUID),
		viewers:  make(map[viewerKey]*models.Viewer),
		messages: make(map[uuid.UUID][]models.ChatMessage),
		lastSent: make(map[uuid.UUID]time.Time),
		feed:     newFanout(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) liveSession(id uuid.UUID) (*models.LiveSession, error) {
	s, ok := m.sessions[id]
	if !ok || !s.IsLive() {
		return nil, models.ErrNotFound
	}
	return s, nil
}

func (m *Memory) CreateSession(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	if _, ok := m.live[s.SellerID]; ok {
		m.mu.Unlock()
		return models.ErrAlreadyLive
	}
	s.ID = uuid.New()
	s.Status = models.StatusLive
	s.CreatedAt = m.now()
	s.EndedAt = nil
	m.sessions[s.ID] = s.Clone()
	m.live[s.SellerID] = s.ID
	m.mu.Unlock()

	m.feed.dispatch(s.ID, TopicSession)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) GetActiveSessionBySeller(_ context.Context, sellerID string) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.live[sellerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.sessions[id].Clone(), nil
}

func (m *Memory) GetLatestSessionBySeller(_ context.Context, sellerID string) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.LiveSession
	for _, s := range m.sessions {
		if s.SellerID != sellerID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *Memory) EndSession(_ context.Context, id uuid.UUID) (*models.LiveSession, bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, false, models.ErrNotFound
	}
	if !s.IsLive() {
		out := s.Clone()
		m.mu.Unlock()
		return out, false, nil
	}
	now := m.now()
	s.Status = models.StatusEnded
	s.EndedAt = &now
	delete(m.live, s.SellerID)
	for k := range m.viewers {
		if k.session == id {
			delete(m.viewers, k)
		}
	}
	out := s.Clone()
	m.mu.Unlock()

	m.feed.dispatch(id, TopicSession)
	m.feed.dispatch(id, TopicViewers)
	return out, true, nil
}

func (m *Memory) ListActiveSessions(_ context.Context, after *Cursor, limit int) ([]models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]models.LiveSession, 0, len(m.live))
	for _, id := range m.live {
		list = append(list, *m.sessions[id].Clone())
	}
	sort.Slice(list, func(i, j int) bool { return newerFirst(list[i], list[j]) })

	out := list[:0]
	for _, s := range list {
		if after != nil && !newerFirst(models.LiveSession{CreatedAt: after.CreatedAt, ID: after.ID}, s) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// newerFirst orders by created_at DESC, id DESC.
func newerFirst(a, b models.LiveSession) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func (m *Memory) IncrementLikes(_ context.Context, id uuid.UUID, delta int64) (int64, error) {
	m.mu.Lock()
	s, err := m.liveSession(id)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	s.LikeCount += delta
	n := s.LikeCount
	m.mu.Unlock()

	m.feed.dispatch(id, TopicLikes)
	return n, nil
}

func (m *Memory) SetFeaturedProduct(_ context.Context, id uuid.UUID, p *models.ProductSummary) error {
	m.mu.Lock()
	s, err := m.liveSession(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if p == nil {
		s.FeaturedProduct = nil
	} else {
		cp := *p
		s.FeaturedProduct = &cp
	}
	m.mu.Unlock()

	m.feed.dispatch(id, TopicFeatured)
	return nil
}

func (m *Memory) RaisePeakViewers(_ context.Context, id uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	if count > s.PeakViewers {
		s.PeakViewers = count
	}
	return nil
}

func (m *Memory) UpsertViewer(_ context.Context, v *models.Viewer, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	if _, err := m.liveSession(v.SessionID); err != nil {
		m.mu.Unlock()
		return false, err
	}
	now := m.now()
	key := viewerKey{session: v.SessionID, viewer: v.ViewerID}
	cur, ok := m.viewers[key]
	created := !ok || !cur.LeaseExpiresAt.After(now)
	if created {
		cur = &models.Viewer{SessionID: v.SessionID, ViewerID: v.ViewerID, JoinedAt: now}
		m.viewers[key] = cur
	}
	cur.DisplayName = v.DisplayName
	cur.LeaseExpiresAt = now.Add(ttl)
	*v = *cur
	m.mu.Unlock()

	if created {
		m.feed.dispatch(v.SessionID, TopicViewers)
	}
	return created, nil
}

func (m *Memory) RenewViewer(_ context.Context, sessionID uuid.UUID, viewerID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cur, ok := m.viewers[viewerKey{session: sessionID, viewer: viewerID}]
	if !ok || !cur.LeaseExpiresAt.After(now) {
		return models.ErrNotFound
	}
	cur.LeaseExpiresAt = now.Add(ttl)
	return nil
}

func (m *Memory) DeleteViewer(_ context.Context, sessionID uuid.UUID, viewerID string) (bool, error) {
	m.mu.Lock()
	key := viewerKey{session: sessionID, viewer: viewerID}
	_, ok := m.viewers[key]
	delete(m.viewers, key)
	m.mu.Unlock()

	if ok {
		m.feed.dispatch(sessionID, TopicViewers)
	}
	return ok, nil
}

func (m *Memory) ListViewers(_ context.Context, sessionID uuid.UUID) ([]models.Viewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var list []models.Viewer
	for k, v := range m.viewers {
		if k.session == sessionID && v.LeaseExpiresAt.After(now) {
			list = append(list, *v)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ViewerID < list[j].ViewerID
	})
	return list, nil
}

func (m *Memory) DeleteExpiredViewers(_ context.Context) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	now := m.now()
	removed := make(map[uuid.UUID]int)
	for k, v := range m.viewers {
		if !v.LeaseExpiresAt.After(now) {
			delete(m.viewers, k)
			removed[k.session]++
		}
	}
	m.mu.Unlock()

	for id := range removed {
		m.feed.dispatch(id, TopicViewers)
	}
	return removed, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	if _, err := m.liveSession(msg.SessionID); err != nil {
		m.mu.Unlock()
		return err
	}
	sentAt := m.now()
	if last, ok := m.lastSent[msg.SessionID]; ok && !sentAt.After(last) {
		sentAt = last.Add(time.Microsecond)
	}
	m.seq++
	msg.Seq = m.seq
	msg.SentAt = sentAt
	m.lastSent[msg.SessionID] = sentAt
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	m.mu.Unlock()

	m.feed.dispatch(msg.SessionID, TopicMessages)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[sessionID]
	i := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	end := len(all)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]models.ChatMessage, end-i)
	copy(out, all[i:end])
	return out, nil
}

func (m *Memory) Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error) {
	return m.feed.watch(ctx, sessionID, topics)
}

var _ Store = (*Memory)(nil)
