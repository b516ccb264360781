// Package broadcast holds the seller-controlled display state of a live session,
// currently the featured product card.
package broadcast

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/stream"
)

// Service sets and streams the featured product.
type Service struct {
	store  livestore.Store
	resync time.Duration
	logger *zap.Logger
}

// NewService creates a broadcast state service.
func NewService(store livestore.Store, resync time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, resync: resync, logger: logger}
}

func validate(p models.ProductSummary) error {
	if strings.TrimSpace(p.ProductID) == "" || strings.TrimSpace(p.Name) == "" || p.Price < 0 {
		return models.ErrInvalidProduct
	}
	return nil
}

// RequireOwner returns ErrForbidden unless sellerID owns the live session.
func (s *Service) RequireOwner(ctx context.Context, sessionID uuid.UUID, sellerID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsLive() {
		return models.ErrNotFound
	}
	if sess.SellerID != sellerID {
		return models.ErrForbidden
	}
	return nil
}

// SetFeaturedProduct replaces the featured product.
func (s *Service) SetFeaturedProduct(ctx context.Context, sessionID uuid.UUID, p models.ProductSummary) error {
	if err := validate(p); err != nil {
		return err
	}
	if err := s.store.SetFeaturedProduct(ctx, sessionID, &p); err != nil {
		return err
	}
	s.logger.Info("featured product set", zap.String("session_id", sessionID.String()), zap.String("product_id", p.ProductID))
	return nil
}

// ClearFeaturedProduct removes the featured product.
func (s *Service) ClearFeaturedProduct(ctx context.Context, sessionID uuid.UUID) error {
	return s.store.SetFeaturedProduct(ctx, sessionID, nil)
}

// FeaturedProduct returns the current featured product, nil when none.
func (s *Service) FeaturedProduct(ctx context.Context, sessionID uuid.UUID) (*models.ProductSummary, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.FeaturedProduct, nil
}

// Subscribe streams the featured product; nil means cleared.
func (s *Service) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan *models.ProductSummary, error) {
	changes, err := s.store.Watch(ctx, sessionID, livestore.TopicFeatured)
	if err != nil {
		return nil, err
	}
	first, err := s.FeaturedProduct(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return stream.Follow(ctx, first, changes, func(ctx context.Context) (*models.ProductSummary, error) {
		return s.FeaturedProduct(ctx, sessionID)
	}, stream.Options[*models.ProductSummary]{
		Resync: s.resync,
		Equal:  func(a, b *models.ProductSummary) bool { return a.Equal(b) },
		Logger: s.logger,
		Name:   "featured",
	}), nil
}
