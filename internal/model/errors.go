package model

import "errors"

var (
	// ErrSessionActive is returned when a client tries to connect while
	// another session holds the bridge.
	ErrSessionActive = errors.New("session already active")

	// ErrSessionNotFound is returned when a session record is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when an upgrade request carries no valid token.
	ErrUnauthorized = errors.New("unauthorized")
)
