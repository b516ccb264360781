package sessions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one millisecond per call so every session gets a distinct created_at.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestService(t *testing.T) (*Service, *livestore.Memory) {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := livestore.NewMemory(livestore.WithClock(clock.Now))
	return NewService(store, 0, nil), store
}

func TestStartSession_SecondStartIsAlreadyLive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, err := svc.StartSession(ctx, Seller{ID: "s1", DisplayName: "Ann"}, "Spring drop")
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, first.Status)
	assert.Zero(t, first.LikeCount)
	assert.Nil(t, first.FeaturedProduct)

	_, err = svc.StartSession(ctx, Seller{ID: "s1"}, "Another")
	assert.ErrorIs(t, err, models.ErrAlreadyLive)

	active, err := svc.GetActiveSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestStartSession_RejectsBlankTitle(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.StartSession(context.Background(), Seller{ID: "s1"}, "   ")
	assert.ErrorIs(t, err, models.ErrInvalidTitle)
}

func TestStartSession_ConcurrentStartsYieldOneLive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartSession(ctx, Seller{ID: "s1"}, "race")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, models.ErrAlreadyLive)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestEndSession_RemovesViewersAndRunsHooks(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	sess, err := svc.StartSession(ctx, Seller{ID: "s1"}, "Live")
	require.NoError(t, err)
	_, err = store.UpsertViewer(ctx, &models.Viewer{SessionID: sess.ID, ViewerID: "v1"}, time.Minute)
	require.NoError(t, err)

	var hooked []uuid.UUID
	svc.OnEnded(func(_ context.Context, s *models.LiveSession) { hooked = append(hooked, s.ID) })

	ended, err := svc.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, []uuid.UUID{sess.ID}, hooked)

	viewers, err := store.ListViewers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, viewers)

	_, err = svc.GetActiveSession(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetLiveSession(ctx, sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEndSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	sess, err := svc.StartSession(ctx, Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	calls := 0
	svc.OnEnded(func(context.Context, *models.LiveSession) { calls++ })

	first, err := svc.EndSession(ctx, "s1")
	require.NoError(t, err)
	second, err := svc.EndSession(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, sess.ID, second.ID)
	assert.Equal(t, models.StatusEnded, second.Status)
	assert.Equal(t, first.EndedAt, second.EndedAt)
	assert.Equal(t, 1, calls)
}

// barrierStore holds concurrent active-session lookups until all of them have read,
// so every caller observes the session as live.
type barrierStore struct {
	*livestore.Memory
	reads sync.WaitGroup
}

func (b *barrierStore) GetActiveSessionBySeller(ctx context.Context, sellerID string) (*models.LiveSession, error) {
	s, err := b.Memory.GetActiveSessionBySeller(ctx, sellerID)
	b.reads.Done()
	b.reads.Wait()
	return s, err
}

func TestEndSession_ConcurrentEndsRunHooksOnce(t *testing.T) {
	ctx := context.Background()
	const callers = 4
	store := &barrierStore{Memory: livestore.NewMemory()}
	svc := NewService(store, 0, nil)
	_, err := svc.StartSession(ctx, Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	var calls atomic.Int32
	svc.OnEnded(func(context.Context, *models.LiveSession) { calls.Add(1) })

	store.reads.Add(callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := svc.EndSession(ctx, "s1")
			assert.NoError(t, err)
			assert.Equal(t, models.StatusEnded, sess.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndSession_NeverLiveIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.EndSession(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStartSession_AfterEndAllowsNewSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	first, err := svc.StartSession(ctx, Seller{ID: "s1"}, "One")
	require.NoError(t, err)
	_, err = svc.EndSession(ctx, "s1")
	require.NoError(t, err)

	second, err := svc.StartSession(ctx, Seller{ID: "s1"}, "Two")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestListActiveSessions_IteratesAllPagesAndRestarts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	var want []uuid.UUID
	for i := 0; i < 7; i++ {
		s, err := svc.StartSession(ctx, Seller{ID: fmt.Sprintf("s%d", i)}, "Live")
		require.NoError(t, err)
		want = append([]uuid.UUID{s.ID}, want...)
	}
	_, err := svc.EndSession(ctx, "s3")
	require.NoError(t, err)
	ended := want[3]
	want = append(append([]uuid.UUID{}, want[:3]...), want[4:]...)

	collect := func() []uuid.UUID {
		var got []uuid.UUID
		for s, err := range svc.ListActiveSessions(ctx, 2) {
			require.NoError(t, err)
			got = append(got, s.ID)
		}
		return got
	}
	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect())
	assert.NotContains(t, collect(), ended)
}

func TestListActiveSessions_StopsEarly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for i := 0; i < 5; i++ {
		_, err := svc.StartSession(ctx, Seller{ID: fmt.Sprintf("s%d", i)}, "Live")
		require.NoError(t, err)
	}
	n := 0
	for _, err := range svc.ListActiveSessions(ctx, 2) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestListActivePage_CursorWalk(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for i := 0; i < 5; i++ {
		_, err := svc.StartSession(ctx, Seller{ID: fmt.Sprintf("s%d", i)}, "Live")
		require.NoError(t, err)
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := svc.ListActivePage(ctx, cursor, 2)
		require.NoError(t, err)
		pages++
		for _, s := range page.Sessions {
			assert.False(t, seen[s.ID], "duplicate session across pages")
			seen[s.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestCursor_RoundTripAndRejectsGarbage(t *testing.T) {
	c := &livestore.Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), ID: uuid.New()}
	got, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, c.ID, got.ID)

	_, err = DecodeCursor("not-a-cursor!")
	assert.ErrorIs(t, err, models.ErrInvalidCursor)

	none, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSubscribe_DeliversEndedStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, _ := newTestService(t)
	sess, err := svc.StartSession(ctx, Seller{ID: "s1"}, "Live")
	require.NoError(t, err)

	ch, err := svc.Subscribe(ctx, sess.ID)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, models.StatusLive, first.Status)

	_, err = svc.EndSession(ctx, "s1")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, models.StatusEnded, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no ended status delivered")
	}
}
