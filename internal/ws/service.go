package ws

import (
	"github.com/brandonphelps/rusty-pellets/internal/session"
)

// Service ties the session broker to the WebSocket handler.
type Service struct {
	broker  *session.Broker
	handler *Handler
}

// NewService creates a new WebSocket service.
func NewService(broker *session.Broker, config Config) *Service {
	return &Service{
		broker:  broker,
		handler: NewHandler(broker, config),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Broker returns the session broker.
func (s *Service) Broker() *session.Broker {
	return s.broker
}

// IsConnected returns true if a client session holds the bridge.
func (s *Service) IsConnected() bool {
	return s.broker.Connected()
}

// Close terminates the running session, if any. The broker and its
// transport stay open; their owner closes them.
func (s *Service) Close() {
	s.handler.Shutdown()
}
