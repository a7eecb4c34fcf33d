// Package logger records bus traffic in candump log format.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brandonphelps/rusty-pellets/internal/can"
)

// CandumpLogger writes every observed frame as a `candump -l` line:
//
//	(1700000000.123456) can0 200#0102
//
// Each line ends with R or T for the direction. Recordings can be fed
// straight back into can.NewReplay, which skips the T lines.
type CandumpLogger struct {
	writer   io.Writer
	file     *os.File // only set if we own the file
	iface    string
	filterTx bool
	lines    int
	mu       sync.Mutex
}

// Option configures a CandumpLogger.
type Option func(*CandumpLogger)

// WithInterface sets the interface name written on every line.
func WithInterface(iface string) Option {
	return func(l *CandumpLogger) {
		l.iface = iface
	}
}

// WithRxOnly drops transmitted frames from the recording.
func WithRxOnly() Option {
	return func(l *CandumpLogger) {
		l.filterTx = true
	}
}

// NewCandumpLogger creates a CandumpLogger appending to the given file path.
func NewCandumpLogger(filePath string, opts ...Option) (*CandumpLogger, error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	l := NewCandumpLoggerWithWriter(file, opts...)
	l.file = file
	return l, nil
}

// NewCandumpLoggerWithWriter creates a CandumpLogger that writes to w.
// This is useful for testing.
func NewCandumpLoggerWithWriter(w io.Writer, opts ...Option) *CandumpLogger {
	l := &CandumpLogger{
		writer: w,
		iface:  "can0",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ObserveFrame implements can.Observer.
func (l *CandumpLogger) ObserveFrame(dir can.Direction, at time.Time, f can.Frame) {
	// Best effort: a failed write must not stall the bus loop.
	_ = l.WriteFrame(dir, at, f)
}

// WriteFrame writes one frame line.
func (l *CandumpLogger) WriteFrame(dir can.Direction, at time.Time, f can.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filterTx && dir == can.DirectionTx {
		return nil
	}

	line := can.FormatCandump(at, l.iface, f)
	if dir == can.DirectionTx {
		line += " T"
	} else {
		line += " R"
	}

	if _, err := io.WriteString(l.writer, line+"\n"); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	l.lines++
	return nil
}

// Lines returns the number of frames written.
func (l *CandumpLogger) Lines() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Close closes the log file.
func (l *CandumpLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
