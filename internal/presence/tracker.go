// Package presence tracks which viewers are watching a live session. Attendance is
// a lease: viewers renew it by heartbeat and a lapsed lease counts as a leave.
package presence

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/stream"
)

const (
	DefaultLeaseTTL          = 45 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
)

// Config holds lease timing.
type Config struct {
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	// Resync re-reads subscribed viewer sets periodically. Zero disables it.
	Resync time.Duration
}

// ViewerSet is a snapshot of the viewers attending a session, oldest join first.
type ViewerSet []models.Viewer

// Count is the viewer count derived from the snapshot.
func (s ViewerSet) Count() int { return len(s) }

func sameViewers(a, b ViewerSet) bool {
	return slices.EqualFunc(a, b, func(x, y models.Viewer) bool {
		return x.ViewerID == y.ViewerID && x.DisplayName == y.DisplayName
	})
}

// Tracker maintains viewer presence on top of the live store.
type Tracker struct {
	store  livestore.Store
	cfg    Config
	logger *zap.Logger
	counts singleflight.Group
}

// NewTracker creates a presence tracker. Zero durations in cfg take the defaults.
func NewTracker(store livestore.Store, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.LeaseTTL {
		cfg.HeartbeatInterval = cfg.LeaseTTL / 3
	}
	return &Tracker{store: store, cfg: cfg, logger: logger}
}

// Join marks the viewer as watching. Joining again renews the lease and keeps JoinedAt.
func (t *Tracker) Join(ctx context.Context, sessionID uuid.UUID, viewerID, displayName string) (*models.Viewer, error) {
	v := &models.Viewer{SessionID: sessionID, ViewerID: viewerID, DisplayName: displayName}
	created, err := t.store.UpsertViewer(ctx, v, t.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if created {
		t.logger.Debug("viewer joined", zap.String("session_id", sessionID.String()), zap.String("viewer_id", viewerID))
		t.raisePeak(ctx, sessionID)
	}
	return v, nil
}

func (t *Tracker) raisePeak(ctx context.Context, sessionID uuid.UUID) {
	viewers, err := t.store.ListViewers(ctx, sessionID)
	if err == nil {
		err = t.store.RaisePeakViewers(ctx, sessionID, len(viewers))
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		t.logger.Warn("raise peak viewers", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// Leave removes the viewer. Leaving when not joined is a no-op.
func (t *Tracker) Leave(ctx context.Context, sessionID uuid.UUID, viewerID string) error {
	removed, err := t.store.DeleteViewer(ctx, sessionID, viewerID)
	if err != nil {
		return err
	}
	if removed {
		t.logger.Debug("viewer left", zap.String("session_id", sessionID.String()), zap.String("viewer_id", viewerID))
	}
	return nil
}

// Heartbeat renews the viewer's lease. ErrNotFound means the lease already lapsed
// (or the session ended) and the viewer must Join again.
func (t *Tracker) Heartbeat(ctx context.Context, sessionID uuid.UUID, viewerID string) error {
	return t.store.RenewViewer(ctx, sessionID, viewerID, t.cfg.LeaseTTL)
}

// Viewers returns the current viewer snapshot.
func (t *Tracker) Viewers(ctx context.Context, sessionID uuid.UUID) (ViewerSet, error) {
	list, err := t.store.ListViewers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ViewerSet(list), nil
}

// Count returns the number of viewers attending the session.
func (t *Tracker) Count(ctx context.Context, sessionID uuid.UUID) (int, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := t.counts.Do(sessionID.String(), func() (interface{}, error) {
		list, err := t.store.ListViewers(shared, sessionID)
		if err != nil {
			return 0, err
		}
		return len(list), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Subscribe streams viewer snapshots: the current set first, then a new set after
// every join or leave. The channel is closed when ctx is done.
func (t *Tracker) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan ViewerSet, error) {
	changes, err := t.store.Watch(ctx, sessionID, livestore.TopicViewers)
	if err != nil {
		return nil, err
	}
	first, err := t.Viewers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return stream.Follow(ctx, first, changes, func(ctx context.Context) (ViewerSet, error) {
		return t.Viewers(ctx, sessionID)
	}, stream.Options[ViewerSet]{
		Resync: t.cfg.Resync,
		Equal:  sameViewers,
		Logger: t.logger,
		Name:   "viewers",
	}), nil
}

// ReapExpired deletes viewers whose lease lapsed and returns how many were removed.
func (t *Tracker) ReapExpired(ctx context.Context) (int, error) {
	removed, err := t.store.DeleteExpiredViewers(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for id, n := range removed {
		total += n
		t.logger.Debug("reaped expired viewers", zap.String("session_id", id.String()), zap.Int("count", n))
	}
	return total, nil
}
