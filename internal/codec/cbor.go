// Package codec encodes servo state snapshots as deterministic CBOR for
// storage alongside session records.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/brandonphelps/rusty-pellets/internal/servo"
)

// encMode uses Core Deterministic Encoding, so equal snapshots always
// produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// snapshotEntry keeps the stored layout independent of the JSON tags on
// servo.State.
type snapshotEntry struct {
	ID          uint8 `cbor:"1,keyasint"`
	Angle       uint8 `cbor:"2,keyasint"`
	UpPressed   bool  `cbor:"3,keyasint"`
	DownPressed bool  `cbor:"4,keyasint"`
}

// EncodeStates encodes a servo snapshot.
func EncodeStates(states []servo.State) ([]byte, error) {
	entries := make([]snapshotEntry, len(states))
	for i, s := range states {
		entries[i] = snapshotEntry{
			ID:          s.ID,
			Angle:       s.Angle,
			UpPressed:   s.UpPressed,
			DownPressed: s.DownPressed,
		}
	}

	data, err := Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode servo snapshot: %w", err)
	}
	return data, nil
}

// DecodeStates decodes a snapshot written by EncodeStates. Empty input
// decodes to a nil slice.
func DecodeStates(data []byte) ([]servo.State, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []snapshotEntry
	if err := Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode servo snapshot: %w", err)
	}

	states := make([]servo.State, len(entries))
	for i, e := range entries {
		states[i] = servo.State{
			ID:          e.ID,
			Angle:       e.Angle,
			UpPressed:   e.UpPressed,
			DownPressed: e.DownPressed,
		}
	}
	return states, nil
}
