package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/models"
)

const leaveTimeout = 5 * time.Second

// Attendance is a joined viewer whose lease is kept alive in the background until
// Close is called or the context passed to Attend is done. Either way the viewer
// leaves exactly once.
type Attendance struct {
	tracker     *Tracker
	sessionID   uuid.UUID
	viewerID    string
	displayName string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Attend joins the viewer and keeps the lease renewed for the lifetime of ctx.
func (t *Tracker) Attend(ctx context.Context, sessionID uuid.UUID, viewerID, displayName string) (*Attendance, error) {
	if _, err := t.Join(ctx, sessionID, viewerID, displayName); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &Attendance{
		tracker:     t,
		sessionID:   sessionID,
		viewerID:    viewerID,
		displayName: displayName,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go a.run(ctx)
	return a, nil
}

// SessionID is the attended session.
func (a *Attendance) SessionID() uuid.UUID { return a.sessionID }

// Done is closed once the viewer has left.
func (a *Attendance) Done() <-chan struct{} { return a.done }

// Close stops the heartbeat and leaves the session. It is safe to call more than once.
func (a *Attendance) Close() {
	a.once.Do(a.cancel)
	<-a.done
}

func (a *Attendance) run(ctx context.Context) {
	defer close(a.done)
	defer a.leave()

	ticker := time.NewTicker(a.tracker.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.renew(ctx)
		}
	}
}

func (a *Attendance) renew(ctx context.Context) {
	err := a.tracker.Heartbeat(ctx, a.sessionID, a.viewerID)
	if errors.Is(err, models.ErrNotFound) {
		// Lease lapsed (e.g. a long store outage). Rejoin unless the session ended.
		_, err = a.tracker.Join(ctx, a.sessionID, a.viewerID, a.displayName)
	}
	if err != nil && ctx.Err() == nil {
		a.tracker.logger.Warn("presence heartbeat failed",
			zap.String("session_id", a.sessionID.String()),
			zap.String("viewer_id", a.viewerID),
			zap.Error(err),
		)
	}
}

func (a *Attendance) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := a.tracker.Leave(ctx, a.sessionID, a.viewerID); err != nil {
		a.tracker.logger.Warn("presence leave failed, lease will expire",
			zap.String("session_id", a.sessionID.String()),
			zap.String("viewer_id", a.viewerID),
			zap.Error(err),
		)
	}
}
