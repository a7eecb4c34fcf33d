package can

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ReplayTransport serves telemetry recorded in a candump log. Each Read
// returns the next frame of the log; writes are accepted and the most recent
// SentHistory of them are kept.
type ReplayTransport struct {
	mu     sync.Mutex
	frames []Frame
	pos    int
	loop   bool
	sent   []Frame
}

// NewReplay loads every received frame from a candump log. Blank lines,
// lines starting with '#' and frames marked T (transmitted) are skipped. When loop is true the log restarts after
// the last frame; otherwise Read reports no data once it is exhausted.
func NewReplay(r io.Reader, loop bool) (*ReplayTransport, error) {
	var frames []Frame

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || isTransmitted(line) {
			continue
		}

		frame, _, err := ParseCandump(line)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", lineNum, err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay log: %w", err)
	}

	return &ReplayTransport{frames: frames, loop: loop}, nil
}

// isTransmitted reports whether a candump line ends with the T direction
// flag.
func isTransmitted(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 1 && fields[len(fields)-1] == "T"
}

// Write records f.
func (r *ReplayTransport) Write(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = appendSent(r.sent, f)
	return nil
}

// Read returns the next recorded frame.
func (r *ReplayTransport) Read() (Frame, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return Frame{}, false, nil
	}
	if r.pos >= len(r.frames) {
		if !r.loop {
			return Frame{}, false, nil
		}
		r.pos = 0
	}

	f := r.frames[r.pos]
	r.pos++
	return f, true, nil
}

// Remaining returns how many frames are left before the log wraps or ends.
func (r *ReplayTransport) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.pos
}

// Sent returns a copy of the most recent frames written, oldest first.
func (r *ReplayTransport) Sent() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.sent))
	copy(out, r.sent)
	return out
}

// Close is a no-op.
func (r *ReplayTransport) Close() error {
	return nil
}
