// Package session arbitrates exclusive access to the servo controller.
//
// A single Broker is shared by every connection handler. At most one client
// session holds the bridge at a time; every controller operation runs under
// the broker's lock.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandonphelps/rusty-pellets/internal/codec"
	"github.com/brandonphelps/rusty-pellets/internal/model"
	"github.com/brandonphelps/rusty-pellets/internal/servo"
)

// Store persists session records.
type Store interface {
	Create(ctx context.Context, session *model.Session) error
	Finish(ctx context.Context, id string, reason model.EndReason, ticks int64, finalState []byte, endedAt time.Time) error
	List(ctx context.Context, limit int) ([]*model.Session, error)
}

// Broker owns the controller and the connected flag.
type Broker struct {
	store Store

	mu         sync.Mutex
	controller *servo.Controller
	connected  bool
	current    *model.Session
	ticks      int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithRepository records session history in store.
func WithRepository(store Store) Option {
	return func(b *Broker) {
		b.store = store
	}
}

// NewBroker creates a broker around c.
func NewBroker(c *servo.Controller, opts ...Option) *Broker {
	b := &Broker{controller: c}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TryBegin claims the bridge for a new session. It returns false when
// another session is already connected.
func (b *Broker) TryBegin(ctx context.Context, remoteAddr string) (*model.Session, bool) {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil, false
	}

	s := &model.Session{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		Status:     model.SessionStatusActive,
		StartedAt:  time.Now().UTC(),
	}
	b.connected = true
	b.current = s
	b.ticks = 0
	record := *s
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.Create(ctx, &record); err != nil {
			log.Printf("Failed to record session %s: %v", record.ID, err)
		}
	}

	return &record, true
}

// End releases the bridge. It is safe to call when no session is active.
func (b *Broker) End(ctx context.Context, reason model.EndReason) {
	b.mu.Lock()
	s := b.current
	ticks := b.ticks
	states := b.controller.States()
	b.connected = false
	b.current = nil
	b.ticks = 0
	b.mu.Unlock()

	if s == nil {
		return
	}

	log.Printf("Session %s ended after %d ticks: %s", s.ID, ticks, reason)

	if b.store == nil {
		return
	}

	blob, err := codec.EncodeStates(states)
	if err != nil {
		log.Printf("Failed to encode final state of session %s: %v", s.ID, err)
	}
	if err := b.store.Finish(ctx, s.ID, reason, ticks, blob, time.Now().UTC()); err != nil {
		log.Printf("Failed to finish session %s: %v", s.ID, err)
	}
}

// Apply latches client input onto the controller.
func (b *Broker) Apply(in servo.Input) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controller.HandleCommand(in)
}

// Tick runs one controller update and returns the resulting states. The
// states are returned even when the update reports an error.
func (b *Broker) Tick() ([]servo.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.controller.Update()
	if b.current != nil {
		b.ticks++
	}
	return b.controller.States(), err
}

// Snapshot returns the current servo states.
func (b *Broker) Snapshot() []servo.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controller.States()
}

// Connected reports whether a session holds the bridge.
func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Current returns a copy of the active session record, or nil.
func (b *Broker) Current() *model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return nil
	}
	s := *b.current
	s.Ticks = b.ticks
	return &s
}

// History returns past sessions, newest first. It returns nil when no
// repository is configured.
func (b *Broker) History(ctx context.Context, limit int) ([]*model.Session, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.List(ctx, limit)
}

// Close ends any active session and closes the controller's transport.
func (b *Broker) Close() error {
	b.End(context.Background(), model.ReasonShutdown)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controller.Close()
}
