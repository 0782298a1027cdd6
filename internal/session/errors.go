package session

import "errors"

var (
	// ErrNoCharacter is returned when an operation needs an active character.
	ErrNoCharacter = errors.New("no active character")

	// ErrEmptyMessage is returned for blank chat content.
	ErrEmptyMessage = errors.New("empty chat message")

	errStaleOwner = errors.New("snapshot for previous owner")
)
