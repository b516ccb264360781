package models

import "errors"

var (
	// ErrAlreadyLive is returned when a seller starts a session while another one is live.
	ErrAlreadyLive = errors.New("seller already has a live session")
	// ErrNotFound is returned for sessions or viewers that do not exist or have ended.
	ErrNotFound = errors.New("not found")
	// ErrEmptyMessage is returned for chat text that is blank after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidTitle   = errors.New("session title is required")
	ErrInvalidProduct = errors.New("invalid product summary")
	ErrMessageTooLong = errors.New("message text is too long")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidCursor  = errors.New("invalid cursor")
)
