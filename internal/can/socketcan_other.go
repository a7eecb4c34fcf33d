//go:build !linux

package can

import (
	"fmt"
	"runtime"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{}

// OpenSocketCAN always fails on this platform.
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, fmt.Errorf("%w: socketcan is not supported on %s", ErrCom, runtime.GOOS)
}

// Write always fails.
func (s *SocketCAN) Write(f Frame) error {
	return fmt.Errorf("%w: socketcan is not supported on %s", ErrCom, runtime.GOOS)
}

// Read always fails.
func (s *SocketCAN) Read() (Frame, bool, error) {
	return Frame{}, false, fmt.Errorf("%w: socketcan is not supported on %s", ErrCom, runtime.GOOS)
}

// Close is a no-op.
func (s *SocketCAN) Close() error { return nil }
