package can

import (
	"errors"
	"sync"
	"time"
)

// ErrCom is returned when the bus driver reports a communication fault.
// It never means "no frame available".
var ErrCom = errors.New("can: communication error")

// Transport is a non-blocking connection to a CAN bus.
// Implementations are safe for concurrent use.
type Transport interface {
	// Write queues a frame for transmission without blocking.
	Write(f Frame) error

	// Read returns the next received frame without blocking.
	// ok is false when no frame is currently available.
	Read() (f Frame, ok bool, err error)

	// Close releases the underlying bus resources.
	Close() error
}

// Direction tells observers whether a frame was received or transmitted.
type Direction string

const (
	DirectionRx Direction = "rx"
	DirectionTx Direction = "tx"
)

// Observer receives every frame passing through a Tap.
type Observer interface {
	ObserveFrame(dir Direction, at time.Time, f Frame)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(dir Direction, at time.Time, f Frame)

// ObserveFrame calls fn.
func (fn ObserverFunc) ObserveFrame(dir Direction, at time.Time, f Frame) {
	fn(dir, at, f)
}

// Tap wraps a Transport and reports successfully read and written frames
// to a set of observers.
type Tap struct {
	inner     Transport
	observers []Observer
	now       func() time.Time
	mu        sync.RWMutex
}

// NewTap creates a Tap around t.
func NewTap(t Transport, observers ...Observer) *Tap {
	return &Tap{
		inner:     t,
		observers: observers,
		now:       time.Now,
	}
}

// AddObserver registers another observer.
func (t *Tap) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Write writes f to the wrapped transport and notifies observers on success.
func (t *Tap) Write(f Frame) error {
	if err := t.inner.Write(f); err != nil {
		return err
	}
	t.notify(DirectionTx, f)
	return nil
}

// Read reads from the wrapped transport and notifies observers when a
// frame was received.
func (t *Tap) Read() (Frame, bool, error) {
	f, ok, err := t.inner.Read()
	if err != nil || !ok {
		return f, ok, err
	}
	t.notify(DirectionRx, f)
	return f, true, nil
}

// Close closes the wrapped transport.
func (t *Tap) Close() error {
	return t.inner.Close()
}

func (t *Tap) notify(dir Direction, f Frame) {
	t.mu.RLock()
	observers := t.observers
	t.mu.RUnlock()

	at := t.now()
	for _, o := range observers {
		o.ObserveFrame(dir, at, f)
	}
}
