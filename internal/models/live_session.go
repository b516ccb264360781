package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusLive  SessionStatus = "live"
	StatusEnded SessionStatus = "ended"
)

// ProductSummary is the product a seller features during a live session.
// Price is in minor currency units.
type ProductSummary struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// Equal reports whether two (possibly nil) summaries hold the same values.
func (p *ProductSummary) Equal(o *ProductSummary) bool {
	if p == nil || o == nil {
		return p == o
	}
	return *p == *o
}

// LiveSession is a seller-initiated real-time broadcast.
type LiveSession struct {
	ID                uuid.UUID       `json:"id"`
	SellerID          string          `json:"seller_id"`
	SellerDisplayName string          `json:"seller_display_name"`
	SellerAvatarRef   string          `json:"seller_avatar_ref,omitempty"`
	Title             string          `json:"title"`
	Status            SessionStatus   `json:"status"`
	LikeCount         int64           `json:"like_count"`
	FeaturedProduct   *ProductSummary `json:"featured_product"`
	PeakViewers       int             `json:"peak_viewers"`
	CreatedAt         time.Time       `json:"created_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
}

// IsLive reports whether the session still accepts viewers, chat and likes.
func (s *LiveSession) IsLive() bool {
	return s.Status == StatusLive
}

// Clone returns a deep copy so callers can hand it out without sharing the featured product.
func (s *LiveSession) Clone() *LiveSession {
	c := *s
	if s.FeaturedProduct != nil {
		p := *s.FeaturedProduct
		c.FeaturedProduct = &p
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
