package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is an append-only chat entry in a live session.
// Seq orders messages within a session the same way SentAt does.
type ChatMessage struct {
	ID                string    `json:"id"`
	SessionID         uuid.UUID `json:"session_id"`
	Seq               int64     `json:"seq"`
	SenderID          string    `json:"sender_id"`
	SenderDisplayName string    `json:"sender_display_name"`
	Text              string    `json:"text"`
	SentAt            time.Time `json:"sent_at"`
}
