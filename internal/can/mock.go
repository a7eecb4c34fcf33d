package can

import "sync"

// SentHistory is the number of written frames a mock or replay transport
// keeps. Older frames are dropped.
const SentHistory = 64

// MockTransport is a deterministic in-memory Transport for running without
// hardware. Writes always succeed (unless WriteErr is set) and the most
// recent SentHistory of them are kept; every Read returns the same canned
// frame.
type MockTransport struct {
	mu       sync.Mutex
	canned   *Frame
	readErr  error
	writeErr error
	sent     []Frame
	closed   bool
}

// DefaultMockFrame is the telemetry frame returned by NewMock.
func DefaultMockFrame() Frame {
	return NewFrame(0x200, []byte{1, 2, 3, 4}, false)
}

// NewMock returns a mock that answers every Read with DefaultMockFrame.
func NewMock() *MockTransport {
	f := DefaultMockFrame()
	return &MockTransport{canned: &f}
}

// NewSilentMock returns a mock whose Read never has a frame available.
func NewSilentMock() *MockTransport {
	return &MockTransport{}
}

// SetFrame replaces the canned frame. A nil frame makes Read report no data.
func (m *MockTransport) SetFrame(f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil {
		m.canned = nil
		return
	}
	copied := *f
	m.canned = &copied
}

// SetReadError makes subsequent reads fail with err.
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes subsequent writes fail with err.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Write records f.
func (m *MockTransport) Write(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.sent = appendSent(m.sent, f)
	return nil
}

// appendSent appends f to sent, dropping the oldest frame once the history
// is full.
func appendSent(sent []Frame, f Frame) []Frame {
	if len(sent) >= SentHistory {
		n := copy(sent, sent[len(sent)-SentHistory+1:])
		sent = sent[:n]
	}
	return append(sent, f)
}

// Read returns the canned frame, if any.
func (m *MockTransport) Read() (Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return Frame{}, false, m.readErr
	}
	if m.canned == nil {
		return Frame{}, false, nil
	}
	return *m.canned, true, nil
}

// Sent returns a copy of the most recent frames written, oldest first.
func (m *MockTransport) Sent() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recently written frame.
func (m *MockTransport) LastSent() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Frame{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Close marks the mock closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
