package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrInvalidCursor is returned when a cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor format")

	// ErrInvalidScope is returned when owner, contract or character is missing.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidRecord is returned when an event or chat message fails validation.
	ErrInvalidRecord = errors.New("invalid record")
)
