package livestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/models"
)

const (
	uniqueViolation = "23505"
	oneLivePerSeller = "live_sessions_one_live_per_seller"
	// maxAttempts bounds the store's own retry of connection-level failures.
	maxAttempts  = 3
	retryBackoff = 100 * time.Millisecond
)

const sessionColumns = `id, seller_id, seller_display_name, seller_avatar_ref, title, status, like_count, featured_product, peak_viewers, created_at, ended_at`

// Postgres is the production Store: documents in PostgreSQL, notifications on a Feed.
type Postgres struct {
	pool   *pgxpool.Pool
	feed   Feed
	logger *zap.Logger
}

// NewPostgres creates a Postgres-backed store publishing changes on feed.
func NewPostgres(pool *pgxpool.Pool, feed Feed, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, feed: feed, logger: logger}
}

// retry runs fn until it succeeds, fails with a non-retryable error, or maxAttempts is reached.
func (p *Postgres) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !pgconn.SafeToRetry(err) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return classify(err)
}

// classify maps driver errors onto the store error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAlreadyLive) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation && pgErr.ConstraintName == oneLivePerSeller {
			return models.ErrAlreadyLive
		}
		return fmt.Errorf("livestore: %w", err)
	}
	return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
}

func (p *Postgres) publish(sessionID uuid.UUID, topics ...Topic) {
	for _, t := range topics {
		if err := p.feed.Publish(context.Background(), sessionID, t); err != nil {
			p.logger.Warn("publish change failed", zap.String("session_id", sessionID.String()), zap.String("topic", string(t)), zap.Error(err))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.LiveSession, error) {
	var s models.LiveSession
	var featured []byte
	if err := row.Scan(&s.ID, &s.SellerID, &s.SellerDisplayName, &s.SellerAvatarRef, &s.Title, &s.Status,
		&s.LikeCount, &featured, &s.PeakViewers, &s.CreatedAt, &s.EndedAt); err != nil {
		return nil, err
	}
	if len(featured) > 0 {
		var ps models.ProductSummary
		if err := json.Unmarshal(featured, &ps); err != nil {
			return nil, fmt.Errorf("decode featured product: %w", err)
		}
		s.FeaturedProduct = &ps
	}
	return &s, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, seller_id, seller_display_name, seller_avatar_ref, title, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'live')
		RETURNING id, status, created_at`
	err := p.retry(ctx, func() error {
		return p.pool.QueryRow(ctx, q, s.SellerID, s.SellerDisplayName, s.SellerAvatarRef, s.Title).
			Scan(&s.ID, &s.Status, &s.CreatedAt)
	})
	if err != nil {
		return err
	}
	s.LikeCount, s.FeaturedProduct, s.PeakViewers, s.EndedAt = 0, nil, 0, nil
	p.publish(s.ID, TopicSession)
	return nil
}

func (p *Postgres) getOne(ctx context.Context, q string, args ...any) (*models.LiveSession, error) {
	var s *models.LiveSession
	err := p.retry(ctx, func() error {
		var err error
		s, err = scanSession(p.pool.QueryRow(ctx, q, args...))
		return err
	})
	return s, err
}

func (p *Postgres) GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return p.getOne(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id)
}

func (p *Postgres) GetActiveSessionBySeller(ctx context.Context, sellerID string) (*models.LiveSession, error) {
	return p.getOne(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE seller_id = $1 AND status = 'live'`, sellerID)
}

func (p *Postgres) GetLatestSessionBySeller(ctx context.Context, sellerID string) (*models.LiveSession, error) {
	return p.getOne(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE seller_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, sellerID)
}

func (p *Postgres) EndSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, bool, error) {
	var (
		s     *models.LiveSession
		ended bool
	)
	err := p.retry(ctx, func() error {
		ended = false
		return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			var err error
			s, err = scanSession(tx.QueryRow(ctx,
				`UPDATE live_sessions SET status = 'ended', ended_at = NOW()
				 WHERE id = $1 AND status = 'live' RETURNING `+sessionColumns, id))
			if errors.Is(err, pgx.ErrNoRows) {
				s, err = scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
				return err
			}
			if err != nil {
				return err
			}
			ended = true
			_, err = tx.Exec(ctx, `DELETE FROM live_viewers WHERE session_id = $1`, id)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	if ended {
		p.publish(id, TopicSession, TopicViewers)
	}
	return s, ended, nil
}

func (p *Postgres) ListActiveSessions(ctx context.Context, after *Cursor, limit int) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE status = 'live'`
	args := []any{}
	if after != nil {
		q += ` AND (created_at, id) < ($1, $2)`
		args = append(args, after.CreatedAt, after.ID)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var list []models.LiveSession
	err := p.retry(ctx, func() error {
		list = list[:0]
		rows, err := p.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return err
			}
			list = append(list, *s)
		}
		return rows.Err()
	})
	return list, err
}

func (p *Postgres) IncrementLikes(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	const q = `UPDATE live_sessions SET like_count = like_count + $2
		WHERE id = $1 AND status = 'live' RETURNING like_count`
	var n int64
	// Not retried: a lost acknowledgement would double-count the like.
	if err := classify(p.pool.QueryRow(ctx, q, id, delta).Scan(&n)); err != nil {
		return 0, err
	}
	p.publish(id, TopicLikes)
	return n, nil
}

func (p *Postgres) SetFeaturedProduct(ctx context.Context, id uuid.UUID, ps *models.ProductSummary) error {
	var featured []byte
	if ps != nil {
		var err error
		if featured, err = json.Marshal(ps); err != nil {
			return fmt.Errorf("encode featured product: %w", err)
		}
	}
	const q = `UPDATE live_sessions SET featured_product = $2 WHERE id = $1 AND status = 'live'`
	err := p.retry(ctx, func() error {
		tag, err := p.pool.Exec(ctx, q, id, featured)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.publish(id, TopicFeatured)
	return nil
}

func (p *Postgres) RaisePeakViewers(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE live_sessions SET peak_viewers = $2 WHERE id = $1 AND $2 > peak_viewers`
	return p.retry(ctx, func() error {
		_, err := p.pool.Exec(ctx, q, id, count)
		return err
	})
}

// lockLive takes a row lock on a live session, or returns ErrNotFound.
func lockLive(ctx context.Context, tx pgx.Tx, id uuid.UUID, mode string) error {
	var status models.SessionStatus
	err := tx.QueryRow(ctx, `SELECT status FROM live_sessions WHERE id = $1 FOR `+mode, id).Scan(&status)
	if err != nil {
		return err
	}
	if status != models.StatusLive {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertViewer(ctx context.Context, v *models.Viewer, ttl time.Duration) (bool, error) {
	const q = `WITH prev AS (
			SELECT lease_expires_at FROM live_viewers WHERE session_id = $1 AND viewer_id = $2
		)
		INSERT INTO live_viewers (session_id, viewer_id, display_name, joined_at, lease_expires_at)
		VALUES ($1, $2, $3, NOW(), NOW() + ($4::double precision * interval '1 millisecond'))
		ON CONFLICT (session_id, viewer_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			lease_expires_at = EXCLUDED.lease_expires_at,
			joined_at = CASE WHEN live_viewers.lease_expires_at <= NOW() THEN EXCLUDED.joined_at ELSE live_viewers.joined_at END
		RETURNING joined_at, lease_expires_at, NOT EXISTS (SELECT 1 FROM prev WHERE prev.lease_expires_at > NOW())`
	var created bool
	err := p.retry(ctx, func() error {
		return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if err := lockLive(ctx, tx, v.SessionID, "SHARE"); err != nil {
				return err
			}
			return tx.QueryRow(ctx, q, v.SessionID, v.ViewerID, v.DisplayName, float64(ttl.Milliseconds())).
				Scan(&v.JoinedAt, &v.LeaseExpiresAt, &created)
		})
	})
	if err != nil {
		return false, err
	}
	if created {
		p.publish(v.SessionID, TopicViewers)
	}
	return created, nil
}

func (p *Postgres) RenewViewer(ctx context.Context, sessionID uuid.UUID, viewerID string, ttl time.Duration) error {
	const q = `UPDATE live_viewers SET lease_expires_at = NOW() + ($3::double precision * interval '1 millisecond')
		WHERE session_id = $1 AND viewer_id = $2 AND lease_expires_at > NOW()`
	return p.retry(ctx, func() error {
		tag, err := p.pool.Exec(ctx, q, sessionID, viewerID, float64(ttl.Milliseconds()))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) DeleteViewer(ctx context.Context, sessionID uuid.UUID, viewerID string) (bool, error) {
	var deleted bool
	err := p.retry(ctx, func() error {
		tag, err := p.pool.Exec(ctx, `DELETE FROM live_viewers WHERE session_id = $1 AND viewer_id = $2`, sessionID, viewerID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		p.publish(sessionID, TopicViewers)
	}
	return deleted, nil
}

func (p *Postgres) ListViewers(ctx context.Context, sessionID uuid.UUID) ([]models.Viewer, error) {
	const q = `SELECT session_id, viewer_id, display_name, joined_at, lease_expires_at
		FROM live_viewers WHERE session_id = $1 AND lease_expires_at > NOW()
		ORDER BY joined_at, viewer_id`
	var list []models.Viewer
	err := p.retry(ctx, func() error {
		list = list[:0]
		rows, err := p.pool.Query(ctx, q, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v models.Viewer
			if err := rows.Scan(&v.SessionID, &v.ViewerID, &v.DisplayName, &v.JoinedAt, &v.LeaseExpiresAt); err != nil {
				return err
			}
			list = append(list, v)
		}
		return rows.Err()
	})
	return list, err
}

func (p *Postgres) DeleteExpiredViewers(ctx context.Context) (map[uuid.UUID]int, error) {
	removed := make(map[uuid.UUID]int)
	err := p.retry(ctx, func() error {
		clear(removed)
		rows, err := p.pool.Query(ctx, `DELETE FROM live_viewers WHERE lease_expires_at <= NOW() RETURNING session_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			removed[id]++
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	for id := range removed {
		p.publish(id, TopicViewers)
	}
	return removed, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	err := p.retry(ctx, func() error {
		return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			var (
				status models.SessionStatus
				last   *time.Time
			)
			// The row lock serialises appends per session so seq and sent_at agree.
			err := tx.QueryRow(ctx, `SELECT status, last_message_at FROM live_sessions WHERE id = $1 FOR UPDATE`, m.SessionID).
				Scan(&status, &last)
			if err != nil {
				return err
			}
			if status != models.StatusLive {
				return models.ErrNotFound
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO live_chat_messages (id, session_id, sender_id, sender_display_name, text, sent_at)
				 VALUES ($1, $2, $3, $4, $5, GREATEST(clock_timestamp(), $6::timestamptz + interval '1 microsecond'))
				 RETURNING seq, sent_at`,
				m.ID, m.SessionID, m.SenderID, m.SenderDisplayName, m.Text, last).Scan(&m.Seq, &m.SentAt)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `UPDATE live_sessions SET last_message_at = $2 WHERE id = $1`, m.SessionID, m.SentAt)
			return err
		})
	})
	if err != nil {
		return err
	}
	p.publish(m.SessionID, TopicMessages)
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	q := `SELECT id, session_id, seq, sender_id, sender_display_name, text, sent_at
		FROM live_chat_messages WHERE session_id = $1 AND seq > $2 ORDER BY seq`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	var list []models.ChatMessage
	err := p.retry(ctx, func() error {
		list = list[:0]
		rows, err := p.pool.Query(ctx, q, sessionID, afterSeq)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m models.ChatMessage
			if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.SenderID, &m.SenderDisplayName, &m.Text, &m.SentAt); err != nil {
				return err
			}
			list = append(list, m)
		}
		return rows.Err()
	})
	return list, err
}

func (p *Postgres) Watch(ctx context.Context, sessionID uuid.UUID, topics ...Topic) (<-chan Topic, error) {
	ch, err := p.feed.Watch(ctx, sessionID, topics...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	return ch, nil
}

var _ Store = (*Postgres)(nil)
