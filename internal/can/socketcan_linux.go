//go:build linux

package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

var (
	initOnce sync.Once
	initErr  error
)

// initSocketCAN checks once per process that the kernel provides CAN_RAW.
// Calling it again is cheap and returns the cached result.
func initSocketCAN() error {
	initOnce.Do(func() {
		fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
		if err != nil {
			initErr = fmt.Errorf("%w: CAN_RAW sockets unavailable: %v", ErrCom, err)
			return
		}
		unix.Close(fd)
	})
	return initErr
}

// SocketCAN is a Transport over a Linux SocketCAN raw socket.
type SocketCAN struct {
	iface string
	fd    int

	mu     sync.Mutex
	closed bool
}

// OpenSocketCAN opens iface (e.g. "can0"), bringing the link up first if
// it is down. The returned socket never blocks.
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	if err := initSocketCAN(); err != nil {
		return nil, err
	}

	if err := busOn(iface); err != nil {
		return nil, err
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("%w: interface %s: %v", ErrCom, iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrCom, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: bind %s: %v", ErrCom, iface, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: set non-blocking: %v", ErrCom, err)
	}

	return &SocketCAN{iface: iface, fd: fd}, nil
}

// busOn sets IFF_UP on iface if it is not already set.
func busOn(iface string) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("%w: control socket: %v", ErrCom, err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return fmt.Errorf("%w: interface name %q: %v", ErrCom, iface, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("%w: get flags for %s: %v", ErrCom, iface, err)
	}

	flags := ifr.Uint16()
	if flags&unix.IFF_UP != 0 {
		return nil
	}

	ifr.SetUint16(flags | unix.IFF_UP)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("%w: bring %s up: %v", ErrCom, iface, err)
	}
	return nil
}

// Write sends f. A full transmit queue is reported as ErrCom.
func (s *SocketCAN) Write(f Frame) error {
	var buf [frameSize]byte

	id := f.ID
	if f.Extended {
		id = (id & unix.CAN_EFF_MASK) | unix.CAN_EFF_FLAG
	} else {
		id &= unix.CAN_SFF_MASK
	}
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = f.DLC
	copy(buf[8:], f.Payload())

	n, err := unix.Write(s.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: %s transmit queue full", ErrCom, s.iface)
		}
		return fmt.Errorf("%w: write %s: %v", ErrCom, s.iface, err)
	}
	if n != frameSize {
		return fmt.Errorf("%w: short write (%d bytes)", ErrCom, n)
	}
	return nil
}

// Read returns the next pending frame, or ok=false when none is queued.
func (s *SocketCAN) Read() (Frame, bool, error) {
	var buf [frameSize]byte

	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Frame{}, false, nil
		}
		return Frame{}, false, fmt.Errorf("%w: read %s: %v", ErrCom, s.iface, err)
	}
	if n != frameSize {
		return Frame{}, false, fmt.Errorf("%w: short read (%d bytes)", ErrCom, n)
	}

	raw := binary.NativeEndian.Uint32(buf[0:4])
	if raw&unix.CAN_ERR_FLAG != 0 {
		return Frame{}, false, fmt.Errorf("%w: %s bus error frame 0x%08X", ErrCom, s.iface, raw&unix.CAN_ERR_MASK)
	}

	extended := raw&unix.CAN_EFF_FLAG != 0
	id := raw & unix.CAN_SFF_MASK
	if extended {
		id = raw & unix.CAN_EFF_MASK
	}

	dlc := int(buf[4])
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}
	return NewFrame(id, buf[8:8+dlc], extended), true, nil
}

// Close closes the socket. Closing twice is a no-op.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
