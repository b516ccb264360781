package models

// Role represents the caller's role as asserted by the identity provider.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Identity is the authenticated caller. Profiles live in the external user service;
// the live core only needs the id and what to display.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Role        Role   `json:"role"`
}
