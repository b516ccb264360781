package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-market/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds the identity asserted by the marketplace's user service.
type Claims struct {
	DisplayName string      `json:"name"`
	AvatarRef   string      `json:"avatar,omitempty"`
	Role        models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts claims into the caller identity used by the live core.
func (c *Claims) Identity() models.Identity {
	return models.Identity{
		UserID:      c.Subject,
		DisplayName: c.DisplayName,
		AvatarRef:   c.AvatarRef,
		Role:        c.Role,
	}
}

// JWTService validates bearer tokens. Tokens are issued by the user service with a
// shared HS256 secret; Generate exists for tooling and tests.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate creates a new JWT for the identity.
func (s *JWTService) Generate(id models.Identity) (string, error) {
	claims := Claims{
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
		Role:        id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
