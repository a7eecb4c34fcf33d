// Package can provides the CAN bus frame type and the transport backends
// used to exchange frames with the servo rig.
package can

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxDataLen is the maximum payload length of a classic CAN frame.
	MaxDataLen = 8

	// MaxStandardID is the largest 11-bit identifier.
	MaxStandardID = 0x7FF

	// MaxExtendedID is the largest 29-bit identifier.
	MaxExtendedID = 0x1FFFFFFF
)

// Frame is a single classic CAN frame.
// Bytes of Data past DLC are always zero.
type Frame struct {
	ID       uint32           `json:"id"`
	Data     [MaxDataLen]byte `json:"data"`
	DLC      uint8            `json:"dlc"`
	Extended bool             `json:"extended"`
}

// NewFrame builds a frame from id and data.
// If data is longer than 8 bytes only the first 8 bytes are used.
func NewFrame(id uint32, data []byte, extended bool) Frame {
	f := Frame{ID: id, Extended: extended}
	n := copy(f.Data[:], data)
	f.DLC = uint8(n)
	return f
}

// Payload returns the first DLC bytes of the frame data.
func (f Frame) Payload() []byte {
	return f.Data[:f.DLC]
}

// String formats the frame in candump notation, e.g. "200#0102".
func (f Frame) String() string {
	var id string
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	} else {
		id = fmt.Sprintf("%03X", f.ID)
	}
	return id + "#" + strings.ToUpper(hex.EncodeToString(f.Payload()))
}

// ParseCandump parses a single candump log line of the form
//
//	(1700000000.123456) can0 200#0102
//
// The timestamp and interface name are optional. Identifiers longer than
// three hex digits are treated as extended. The returned time is zero when
// the line carries no timestamp.
func ParseCandump(line string) (Frame, time.Time, error) {
	var ts time.Time

	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, ts, fmt.Errorf("empty line")
	}

	if strings.HasPrefix(line, "(") {
		end := strings.Index(line, ")")
		if end == -1 {
			return Frame{}, ts, fmt.Errorf("unterminated timestamp")
		}
		parsed, err := parseTimestamp(line[1:end])
		if err != nil {
			return Frame{}, ts, err
		}
		ts = parsed
		line = strings.TrimSpace(line[end+1:])
	}

	// Drop the interface name and anything after the frame token.
	fields := strings.Fields(line)
	var token string
	for _, field := range fields {
		if strings.Contains(field, "#") {
			token = field
			break
		}
	}
	if token == "" {
		return Frame{}, ts, fmt.Errorf("no # separator found")
	}

	idx := strings.Index(token, "#")
	idPart, dataPart := token[:idx], token[idx+1:]
	if idPart == "" {
		return Frame{}, ts, fmt.Errorf("missing identifier")
	}

	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return Frame{}, ts, fmt.Errorf("invalid identifier %q: %w", idPart, err)
	}
	extended := len(idPart) > 3
	if extended && id > MaxExtendedID || !extended && id > MaxStandardID {
		return Frame{}, ts, fmt.Errorf("identifier %q out of range", idPart)
	}

	data, err := hex.DecodeString(strings.ReplaceAll(dataPart, ".", ""))
	if err != nil {
		return Frame{}, ts, fmt.Errorf("invalid payload %q: %w", dataPart, err)
	}
	if len(data) > MaxDataLen {
		return Frame{}, ts, fmt.Errorf("payload too long: %d bytes", len(data))
	}

	return NewFrame(uint32(id), data, extended), ts, nil
}

// parseTimestamp parses "seconds.micros" as written by candump -l.
func parseTimestamp(s string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}

	return time.Unix(sec, nsec), nil
}

// FormatCandump formats a frame as a candump -l log line.
func FormatCandump(ts time.Time, iface string, f Frame) string {
	return fmt.Sprintf("(%d.%06d) %s %s", ts.Unix(), ts.Nanosecond()/1000, iface, f.String())
}
