// Package servo owns the per-servo state of the rig and translates between
// directional client input and CAN bus frames.
//
// The controller drives a single bus module that actuates several servos;
// it does not talk to individual servos.
package servo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/brandonphelps/rusty-pellets/internal/can"
)

// BaseID is the command frame identifier. Telemetry for servo i arrives
// on BaseID+i.
const BaseID uint32 = 0x200

// Command word bits.
const (
	BitAxis0Up   uint16 = 1 << 0
	BitAxis0Down uint16 = 1 << 1
	BitAxis1Up   uint16 = 1 << 2
	BitAxis1Down uint16 = 1 << 3
)

// MinServos is the number of servos needed by the two-axis mapping.
const MinServos = 2

var (
	// ErrInvalidMessage is returned when a telemetry frame has no payload.
	ErrInvalidMessage = errors.New("invalid telemetry message")

	// ErrTooFewServos is returned when a controller is created with fewer
	// servos than the input mapping addresses.
	ErrTooFewServos = errors.New("controller needs at least two servos")
)

// State is the last known state of one servo.
type State struct {
	ID          uint8 `json:"id"`
	Angle       uint8 `json:"angle"`
	UpPressed   bool  `json:"up_pressed"`
	DownPressed bool  `json:"down_pressed"`
}

// Input is the directional intent sent by the client. Up/Down drive axis 0,
// Left/Right drive axis 1.
type Input struct {
	Up    bool `json:"up"`
	Down  bool `json:"down"`
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Controller holds servo state and the bus transport.
// It is not safe for concurrent use; callers serialize access.
type Controller struct {
	transport can.Transport
	servos    []State
}

// NewController creates a controller for count servos on t.
func NewController(t can.Transport, count int) (*Controller, error) {
	if count < MinServos {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewServos, count)
	}
	if count > 256 {
		return nil, fmt.Errorf("servo count %d exceeds id range", count)
	}

	servos := make([]State, count)
	for i := range servos {
		servos[i].ID = uint8(i)
	}

	return &Controller{
		transport: t,
		servos:    servos,
	}, nil
}

// HandleCommand latches the client's intent onto servo 0 (up/down) and
// servo 1 (left/right).
func (c *Controller) HandleCommand(in Input) {
	c.servos[0].UpPressed = in.Up
	c.servos[0].DownPressed = in.Down

	c.servos[1].UpPressed = in.Left
	c.servos[1].DownPressed = in.Right
}

// Update runs one controller tick: it consumes at most one telemetry
// frame, then writes the command frame built from the current latches.
//
// A transport failure returns an error wrapping can.ErrCom and skips the
// rest of the tick. A telemetry frame without payload leaves all state
// untouched; the command frame is still written and ErrInvalidMessage is
// returned.
func (c *Controller) Update() error {
	var readErr error

	f, ok, err := c.transport.Read()
	if err != nil {
		return fmt.Errorf("failed to read telemetry: %w", err)
	}
	if ok {
		readErr = c.applyTelemetry(f)
	}

	word := c.CommandWord()
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], word)

	if err := c.transport.Write(can.NewFrame(BaseID, payload[:], false)); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	return readErr
}

// applyTelemetry stores byte 0 of f as the angle of the first servo whose
// telemetry id matches.
func (c *Controller) applyTelemetry(f can.Frame) error {
	if f.DLC < 1 {
		return fmt.Errorf("%w: frame %s has no payload", ErrInvalidMessage, f)
	}

	for i := range c.servos {
		if f.ID == BaseID+uint32(i) {
			c.servos[i].Angle = f.Data[0]
			break
		}
	}
	return nil
}

// CommandWord encodes the latches of servo 0 and 1. Up wins over down on
// the same axis.
func (c *Controller) CommandWord() uint16 {
	var word uint16

	if c.servos[0].UpPressed {
		word |= BitAxis0Up
	} else if c.servos[0].DownPressed {
		word |= BitAxis0Down
	}

	if c.servos[1].UpPressed {
		word |= BitAxis1Up
	} else if c.servos[1].DownPressed {
		word |= BitAxis1Down
	}

	return word
}

// States returns a copy of every servo state, ordered by id.
func (c *Controller) States() []State {
	out := make([]State, len(c.servos))
	copy(out, c.servos)
	return out
}

// Count returns the number of servos.
func (c *Controller) Count() int {
	return len(c.servos)
}

// Close closes the transport.
func (c *Controller) Close() error {
	return c.transport.Close()
}
