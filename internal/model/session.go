// Package model holds the records shared between the session broker, the
// repository and the HTTP handlers.
package model

import (
	"time"
)

// SessionStatus represents the status of a client session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// EndReason records why a session was terminated.
type EndReason string

const (
	// ReasonClientDisconnect means the client sent a Disconnect command.
	ReasonClientDisconnect EndReason = "client_disconnect"

	// ReasonClientGone means the client's receive stream closed.
	ReasonClientGone EndReason = "client_gone"

	// ReasonSendFailed means a state broadcast could not be written.
	ReasonSendFailed EndReason = "send_failed"

	// ReasonUpgradeFailed means the WebSocket handshake failed after the
	// slot was reserved.
	ReasonUpgradeFailed EndReason = "upgrade_failed"

	// ReasonShutdown means the server is shutting down.
	ReasonShutdown EndReason = "shutdown"
)

// Session is one exclusive client connection to the bridge.
type Session struct {
	ID         string        `json:"id"`
	RemoteAddr string        `json:"remoteAddr"`
	Status     SessionStatus `json:"status"`
	EndReason  EndReason     `json:"endReason,omitempty"`
	Ticks      int64         `json:"ticks"`
	FinalState []byte        `json:"-"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
}

// Duration returns how long the session lasted, or has lasted so far.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// Active reports whether the session is still running.
func (s *Session) Active() bool {
	return s.Status == SessionStatusActive
}
