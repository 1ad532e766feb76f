package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Represents the "type" discriminator carried by every frame
type MessageType string

const (
	// Client -> relay
	TypeJoin   MessageType = "join"
	TypeCursor MessageType = "cursor"
	TypeChange MessageType = "change"
	TypeLeave  MessageType = "leave"

	// Relay -> client
	TypePresence   MessageType = "presence"
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"
)

var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

var validate = validator.New()

type envelope struct {
	Type MessageType `json:"type"`
}

type Join struct {
	RoomID        string `json:"roomId" validate:"required"`
	ParticipantID string `json:"participantId" validate:"required"`
	DisplayName   string `json:"displayName"`
}

// Cursor coordinates are opaque to the relay and forwarded as sent.
type Cursor struct {
	RoomID         string          `json:"roomId"`
	X              json.RawMessage `json:"x" validate:"required"`
	Y              json.RawMessage `json:"y" validate:"required"`
	SelectedNodeID *string         `json:"selectedNodeId"`
}

// Operation is never parsed; its shape belongs to the editing client.
type Change struct {
	RoomID    string          `json:"roomId"`
	Operation json.RawMessage `json:"operation" validate:"required"`
}

type Leave struct {
	RoomID string `json:"roomId"`
}

// Decode parses one inbound text frame into a *Join, *Cursor, *Change or *Leave.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	// Opaque fields are relayed byte for byte as text frames.
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidMessage)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg any
	switch env.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeCursor:
		msg = &Cursor{}
	case TypeChange:
		msg = &Change{}
	case TypeLeave:
		msg = &Leave{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return msg, nil
}

// User is one entry of a presence snapshot and the identity part of user-joined.
type User struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Color         string `json:"color"`
}

type Presence struct {
	Type  MessageType `json:"type"`
	Users []User      `json:"users"`
}

type UserJoined struct {
	Type MessageType `json:"type"`
	User
}

type CursorEvent struct {
	Type           MessageType     `json:"type"`
	ParticipantID  string          `json:"participantId"`
	DisplayName    string          `json:"displayName"`
	Color          string          `json:"color"`
	X              json.RawMessage `json:"x"`
	Y              json.RawMessage `json:"y"`
	SelectedNodeID *string         `json:"selectedNodeId"`
}

type ChangeEvent struct {
	Type          MessageType     `json:"type"`
	ParticipantID string          `json:"participantId"`
	Operation     json.RawMessage `json:"operation"`
}

type UserLeft struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId"`
}

// Builds a presence snapshot; an empty room encodes as "users": []
func NewPresence(users []User) Presence {
	if users == nil {
		users = []User{}
	}
	return Presence{Type: TypePresence, Users: users}
}

func NewUserJoined(u User) UserJoined {
	return UserJoined{Type: TypeUserJoined, User: u}
}

func NewCursorEvent(u User, c *Cursor) CursorEvent {
	return CursorEvent{
		Type:           TypeCursor,
		ParticipantID:  u.ParticipantID,
		DisplayName:    u.DisplayName,
		Color:          u.Color,
		X:              c.X,
		Y:              c.Y,
		SelectedNodeID: c.SelectedNodeID,
	}
}

func NewChangeEvent(participantID string, c *Change) ChangeEvent {
	return ChangeEvent{Type: TypeChange, ParticipantID: participantID, Operation: c.Operation}
}

func NewUserLeft(participantID string) UserLeft {
	return UserLeft{Type: TypeUserLeft, ParticipantID: participantID}
}

// Encode renders an outbound message as a single JSON text frame.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}
