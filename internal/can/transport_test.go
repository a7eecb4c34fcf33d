package can

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMockTransport(t *testing.T) {
	m := NewMock()

	for i := 0; i < 3; i++ {
		f, ok, err := m.Read()
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		if f != DefaultMockFrame() {
			t.Errorf("read %d: expected canned frame, got %+v", i, f)
		}
	}

	if err := m.Write(NewFrame(0x200, []byte{1, 0}, false)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := len(m.Sent()); got != 1 {
		t.Errorf("expected 1 recorded frame, got %d", got)
	}

	m.SetFrame(nil)
	if _, ok, err := m.Read(); ok || err != nil {
		t.Errorf("expected no data, got ok=%v err=%v", ok, err)
	}

	readErr := fmt.Errorf("%w: unplugged", ErrCom)
	m.SetReadError(readErr)
	if _, _, err := m.Read(); !errors.Is(err, ErrCom) {
		t.Errorf("expected ErrCom, got %v", err)
	}

	m.SetWriteError(readErr)
	if err := m.Write(Frame{}); !errors.Is(err, ErrCom) {
		t.Errorf("expected ErrCom on write, got %v", err)
	}
	if got := len(m.Sent()); got != 1 {
		t.Errorf("failed write should not be recorded, got %d frames", got)
	}

	m.Close()
	if !m.Closed() {
		t.Error("expected mock to be closed")
	}
}

func TestSilentMock(t *testing.T) {
	m := NewSilentMock()
	if _, ok, err := m.Read(); ok || err != nil {
		t.Errorf("expected no data, got ok=%v err=%v", ok, err)
	}
	if _, ok := m.LastSent(); ok {
		t.Error("expected no frames sent")
	}
}

func TestTap(t *testing.T) {
	m := NewMock()

	type seen struct {
		dir Direction
		f   Frame
	}
	var got []seen
	tap := NewTap(m, ObserverFunc(func(dir Direction, at time.Time, f Frame) {
		got = append(got, seen{dir, f})
	}))

	if _, ok, err := tap.Read(); !ok || err != nil {
		t.Fatalf("read failed: ok=%v err=%v", ok, err)
	}
	out := NewFrame(0x200, []byte{4, 0}, false)
	if err := tap.Write(out); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Nothing observed when there is no data or the write fails.
	m.SetFrame(nil)
	tap.Read()
	m.SetWriteError(ErrCom)
	tap.Write(out)

	if len(got) != 2 {
		t.Fatalf("expected 2 observed frames, got %d", len(got))
	}
	if got[0].dir != DirectionRx || got[0].f != DefaultMockFrame() {
		t.Errorf("unexpected rx observation: %+v", got[0])
	}
	if got[1].dir != DirectionTx || got[1].f != out {
		t.Errorf("unexpected tx observation: %+v", got[1])
	}

	var late int
	tap.AddObserver(ObserverFunc(func(Direction, time.Time, Frame) { late++ }))
	m.SetWriteError(nil)
	tap.Write(out)
	if late != 1 {
		t.Errorf("expected added observer to be notified once, got %d", late)
	}

	tap.Close()
	if !m.Closed() {
		t.Error("expected Close to reach the wrapped transport")
	}
}

const replayLog = `# captured on the bench
(1700000000.000000) can0 200#10
(1700000000.100000) can0 201#20

(1700000000.200000) can0 200#30
`

func TestReplayTransport(t *testing.T) {
	r, err := NewReplay(strings.NewReader(replayLog), false)
	if err != nil {
		t.Fatalf("failed to load replay: %v", err)
	}
	if r.Remaining() != 3 {
		t.Fatalf("expected 3 frames, got %d", r.Remaining())
	}

	want := []byte{0x10, 0x20, 0x30}
	for i, b := range want {
		f, ok, err := r.Read()
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		if f.Data[0] != b {
			t.Errorf("read %d: expected %#x, got %#x", i, b, f.Data[0])
		}
	}

	if _, ok, err := r.Read(); ok || err != nil {
		t.Errorf("expected exhausted replay, got ok=%v err=%v", ok, err)
	}

	r.Write(NewFrame(0x200, []byte{1, 0}, false))
	if len(r.Sent()) != 1 {
		t.Errorf("expected write to be recorded")
	}
}

func TestReplayTransportLoop(t *testing.T) {
	r, err := NewReplay(strings.NewReader(replayLog), true)
	if err != nil {
		t.Fatalf("failed to load replay: %v", err)
	}

	var last Frame
	for i := 0; i < 4; i++ {
		f, ok, err := r.Read()
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		last = f
	}
	if last.Data[0] != 0x10 {
		t.Errorf("expected replay to wrap to the first frame, got %#x", last.Data[0])
	}
}

func TestReplayTransportInvalidLine(t *testing.T) {
	_, err := NewReplay(strings.NewReader("200#01\nnot a frame\n"), false)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error mentioning line 2, got %v", err)
	}
}

func TestReplayTransportEmpty(t *testing.T) {
	r, err := NewReplay(strings.NewReader(""), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := r.Read(); ok || err != nil {
		t.Errorf("expected no data, got ok=%v err=%v", ok, err)
	}
}

func TestReplayTransportSkipsTransmitted(t *testing.T) {
	log := `(1700000000.000000) can0 201#2A R
(1700000000.000100) can0 200#0100 T
(1700000000.100000) can0 200#07 R
`
	r, err := NewReplay(strings.NewReader(log), false)
	if err != nil {
		t.Fatalf("failed to load replay: %v", err)
	}
	if r.Remaining() != 2 {
		t.Fatalf("expected 2 received frames, got %d", r.Remaining())
	}

	want := []Frame{
		NewFrame(0x201, []byte{0x2a}, false),
		NewFrame(0x200, []byte{0x07}, false),
	}
	for i, w := range want {
		f, ok, err := r.Read()
		if err != nil || !ok {
			t.Fatalf("read %d: ok=%v err=%v", i, ok, err)
		}
		if f != w {
			t.Errorf("read %d: expected %v, got %v", i, w, f)
		}
	}
}

func TestSentHistoryBounded(t *testing.T) {
	m := NewMock()
	r, err := NewReplay(strings.NewReader(""), false)
	if err != nil {
		t.Fatalf("failed to load replay: %v", err)
	}

	total := SentHistory*3 + 5
	for i := 0; i < total; i++ {
		f := NewFrame(uint32(i), []byte{byte(i)}, false)
		m.Write(f)
		r.Write(f)
	}

	for name, sent := range map[string][]Frame{"mock": m.Sent(), "replay": r.Sent()} {
		if len(sent) != SentHistory {
			t.Fatalf("%s: expected %d frames kept, got %d", name, SentHistory, len(sent))
		}
		if first := sent[0].ID; first != uint32(total-SentHistory) {
			t.Errorf("%s: expected oldest kept id %d, got %d", name, total-SentHistory, first)
		}
		if last := sent[len(sent)-1].ID; last != uint32(total-1) {
			t.Errorf("%s: expected newest id %d, got %d", name, total-1, last)
		}
	}

	if f, ok := m.LastSent(); !ok || f.ID != uint32(total-1) {
		t.Errorf("unexpected last sent frame: %v %v", f, ok)
	}
}
