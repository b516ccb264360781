package models

import (
	"time"

	"github.com/google/uuid"
)

// Viewer is a presence record: it exists only while the viewer attends the session
// and its lease has not expired.
type Viewer struct {
	SessionID      uuid.UUID `json:"session_id"`
	ViewerID       string    `json:"viewer_id"`
	DisplayName    string    `json:"display_name"`
	JoinedAt       time.Time `json:"joined_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}
