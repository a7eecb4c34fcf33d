package servo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/brandonphelps/rusty-pellets/internal/can"
)

func newTestController(t *testing.T, m *can.MockTransport, count int) *Controller {
	t.Helper()
	c, err := NewController(m, count)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c
}

func TestNewController(t *testing.T) {
	c := newTestController(t, can.NewMock(), 4)

	states := c.States()
	if len(states) != 4 {
		t.Fatalf("expected 4 servos, got %d", len(states))
	}
	for i, s := range states {
		if s != (State{ID: uint8(i)}) {
			t.Errorf("servo %d: unexpected initial state %+v", i, s)
		}
	}

	for _, n := range []int{-1, 0, 1} {
		if _, err := NewController(can.NewMock(), n); !errors.Is(err, ErrTooFewServos) {
			t.Errorf("count %d: expected ErrTooFewServos, got %v", n, err)
		}
	}
	if _, err := NewController(can.NewMock(), 257); err == nil {
		t.Error("expected error for more servos than ids")
	}
}

func TestHandleCommand(t *testing.T) {
	c := newTestController(t, can.NewMock(), 3)

	c.HandleCommand(Input{Up: true, Right: true})

	states := c.States()
	if !states[0].UpPressed || states[0].DownPressed {
		t.Errorf("servo 0: unexpected latches %+v", states[0])
	}
	if states[1].UpPressed || !states[1].DownPressed {
		t.Errorf("servo 1: unexpected latches %+v", states[1])
	}
	if states[2].UpPressed || states[2].DownPressed {
		t.Errorf("servo 2 must not be touched: %+v", states[2])
	}

	// Latches are overwritten, not accumulated.
	c.HandleCommand(Input{Left: true})
	states = c.States()
	if states[0].UpPressed || !states[1].UpPressed || states[1].DownPressed {
		t.Errorf("unexpected latches after second command: %+v", states)
	}
}

func TestCommandWord(t *testing.T) {
	tests := []struct {
		in   Input
		want uint16
	}{
		{Input{}, 0},
		{Input{Up: true}, BitAxis0Up},
		{Input{Down: true}, BitAxis0Down},
		{Input{Left: true}, BitAxis1Up},
		{Input{Right: true}, BitAxis1Down},
		{Input{Up: true, Left: true}, BitAxis0Up | BitAxis1Up},
		{Input{Down: true, Right: true}, BitAxis0Down | BitAxis1Down},
		// Up has priority over down on the same axis.
		{Input{Up: true, Down: true}, BitAxis0Up},
		{Input{Left: true, Right: true}, BitAxis1Up},
		{Input{Up: true, Down: true, Left: true, Right: true}, BitAxis0Up | BitAxis1Up},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+v", tt.in), func(t *testing.T) {
			m := can.NewSilentMock()
			c := newTestController(t, m, 2)
			c.HandleCommand(tt.in)

			if got := c.CommandWord(); got != tt.want {
				t.Errorf("expected word %#04x, got %#04x", tt.want, got)
			}

			if err := c.Update(); err != nil {
				t.Fatalf("update failed: %v", err)
			}
			f, ok := m.LastSent()
			if !ok {
				t.Fatal("expected a command frame")
			}
			if f.ID != BaseID || f.Extended || f.DLC != 2 {
				t.Errorf("unexpected command frame header: %+v", f)
			}
			if got := binary.LittleEndian.Uint16(f.Payload()); got != tt.want {
				t.Errorf("expected payload %#04x, got %#04x", tt.want, got)
			}
		})
	}
}

func TestUpdateAppliesTelemetry(t *testing.T) {
	m := can.NewMock()
	c := newTestController(t, m, 3)

	// Default mock frame is 0x200 with byte 0 == 1.
	if err := c.Update(); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got := c.States()[0].Angle; got != 1 {
		t.Errorf("expected servo 0 angle 1, got %d", got)
	}

	f := can.NewFrame(BaseID+2, []byte{200, 9}, false)
	m.SetFrame(&f)
	if err := c.Update(); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	states := c.States()
	if states[2].Angle != 200 {
		t.Errorf("expected servo 2 angle 200, got %d", states[2].Angle)
	}
	if states[0].Angle != 1 || states[1].Angle != 0 {
		t.Errorf("other servos must keep their angle: %+v", states)
	}

	// Unknown ids are ignored.
	f = can.NewFrame(BaseID+3, []byte{77}, false)
	m.SetFrame(&f)
	before := c.States()
	if err := c.Update(); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !reflect.DeepEqual(before, c.States()) {
		t.Errorf("unknown telemetry id changed state: %+v", c.States())
	}
}

func TestUpdateInvalidMessage(t *testing.T) {
	m := can.NewMock()
	c := newTestController(t, m, 2)
	c.HandleCommand(Input{Up: true})

	empty := can.NewFrame(BaseID, nil, false)
	m.SetFrame(&empty)

	before := c.States()
	err := c.Update()
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if !reflect.DeepEqual(before, c.States()) {
		t.Errorf("state changed after invalid message: %+v", c.States())
	}

	// The command frame still goes out.
	if _, ok := m.LastSent(); !ok {
		t.Error("expected command frame to be written")
	}

	// Subsequent ticks are not halted.
	valid := can.NewFrame(BaseID+1, []byte{42}, false)
	m.SetFrame(&valid)
	if err := c.Update(); err != nil {
		t.Fatalf("update after invalid message failed: %v", err)
	}
	if c.States()[1].Angle != 42 {
		t.Errorf("expected servo 1 angle 42, got %d", c.States()[1].Angle)
	}
}

func TestUpdateTransportErrors(t *testing.T) {
	t.Run("read error aborts the tick", func(t *testing.T) {
		m := can.NewMock()
		c := newTestController(t, m, 2)
		m.SetReadError(fmt.Errorf("%w: bus off", can.ErrCom))

		if err := c.Update(); !errors.Is(err, can.ErrCom) {
			t.Fatalf("expected ErrCom, got %v", err)
		}
		if len(m.Sent()) != 0 {
			t.Error("no command frame should be written after a read fault")
		}
	})

	t.Run("write error is reported", func(t *testing.T) {
		m := can.NewMock()
		c := newTestController(t, m, 2)
		m.SetWriteError(fmt.Errorf("%w: tx queue full", can.ErrCom))

		if err := c.Update(); !errors.Is(err, can.ErrCom) {
			t.Fatalf("expected ErrCom, got %v", err)
		}
		// Telemetry read before the failed write is still applied.
		if c.States()[0].Angle != 1 {
			t.Errorf("expected servo 0 angle 1, got %d", c.States()[0].Angle)
		}
	})
}

func TestStatesIsCopy(t *testing.T) {
	c := newTestController(t, can.NewMock(), 2)
	states := c.States()
	states[0].Angle = 99
	states[0].UpPressed = true

	if c.States()[0] != (State{ID: 0}) {
		t.Error("States must return a copy")
	}
	if c.Count() != 2 {
		t.Errorf("expected count 2, got %d", c.Count())
	}
}
