package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandonphelps/rusty-pellets/internal/servo"
)

// MessageType is the "t" tag of a wire message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeServo      MessageType = "Servo"
	MessageTypeDisconnect MessageType = "Disconnect"

	// Server -> Client message types
	MessageTypeServoState MessageType = "ServoState"
	MessageTypeNone       MessageType = "None"
)

var (
	// ErrUnknownMessage is returned when a message carries an unknown tag.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrMissingContent is returned when a tag that needs content has none.
	ErrMissingContent = errors.New("message content missing")
)

// envelope is the wire shape shared by every message.
type envelope struct {
	Type    MessageType     `json:"t"`
	Content json.RawMessage `json:"c,omitempty"`
}

// wireInput is the Servo content as sent on the wire. Every direction must
// be present.
type wireInput struct {
	Up    *bool `json:"up"`
	Down  *bool `json:"down"`
	Left  *bool `json:"left"`
	Right *bool `json:"right"`
}

// ClientMessage is a message sent by the browser client.
type ClientMessage struct {
	Type  MessageType
	Input servo.Input
}

// ServoCommand builds a Servo client message.
func ServoCommand(in servo.Input) ClientMessage {
	return ClientMessage{Type: MessageTypeServo, Input: in}
}

// DisconnectRequest builds a Disconnect client message.
func DisconnectRequest() ClientMessage {
	return ClientMessage{Type: MessageTypeDisconnect}
}

// MarshalJSON implements json.Marshaler.
func (m ClientMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageTypeServo:
		content, err := json.Marshal(m.Input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Type: m.Type, Content: content})
	case MessageTypeDisconnect:
		return json.Marshal(envelope{Type: m.Type})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Type {
	case MessageTypeServo:
		if len(env.Content) == 0 || string(env.Content) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingContent, env.Type)
		}
		var in wireInput
		if err := json.Unmarshal(env.Content, &in); err != nil {
			return fmt.Errorf("invalid servo command: %w", err)
		}
		if in.Up == nil || in.Down == nil || in.Left == nil || in.Right == nil {
			return fmt.Errorf("%w: servo command needs up, down, left and right", ErrMissingContent)
		}
		*m = ClientMessage{Type: env.Type, Input: servo.Input{
			Up:    *in.Up,
			Down:  *in.Down,
			Left:  *in.Left,
			Right: *in.Right,
		}}
	case MessageTypeDisconnect:
		*m = ClientMessage{Type: env.Type}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return nil
}

// ServerMessage is a message sent to the browser client.
type ServerMessage struct {
	Type   MessageType
	States []servo.State
}

// ServoStateMessage builds a ServoState server message.
func ServoStateMessage(states []servo.State) ServerMessage {
	return ServerMessage{Type: MessageTypeServoState, States: states}
}

// MarshalJSON implements json.Marshaler.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageTypeServoState:
		states := m.States
		if states == nil {
			states = []servo.State{}
		}
		content, err := json.Marshal(states)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Type: m.Type, Content: content})
	case MessageTypeDisconnect, MessageTypeNone:
		return json.Marshal(envelope{Type: m.Type})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ServerMessage) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Type {
	case MessageTypeServoState:
		if len(env.Content) == 0 || string(env.Content) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingContent, env.Type)
		}
		var states []servo.State
		if err := json.Unmarshal(env.Content, &states); err != nil {
			return fmt.Errorf("invalid servo state: %w", err)
		}
		*m = ServerMessage{Type: env.Type, States: states}
	case MessageTypeDisconnect, MessageTypeNone:
		*m = ServerMessage{Type: env.Type}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return nil
}
