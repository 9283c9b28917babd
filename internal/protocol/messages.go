// Package protocol defines the WebSocket frames exchanged between chat
// clients and the gateway. All frames are JSON objects carrying a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeSend       = "send"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeTogglePin  = "toggle_pin"
	TypeEdit       = "edit"
	TypeDelete     = "delete"
	TypeReport     = "report"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated    = "session_created"
	TypeHistory           = "history"
	TypePresenceCount     = "presence_count"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeMessage           = "message"
	TypeMessageUpdated    = "message_updated"
	TypeMessageDeleted    = "message_deleted"
	TypeMessageHidden     = "message_hidden"
	TypeMessagePinned     = "message_pinned"
	TypeRoomCleared       = "room_cleared"
	TypeReportAccepted    = "report_accepted"
	TypeRateLimited       = "rate_limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field so
// the rest of the payload can be decoded into the concrete struct later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg subscribes the connection to a project room.
type JoinMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveMsg unsubscribes the connection from a room.
type LeaveMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMsg posts a new message. Attachment is required when Kind is "file"
// and must be the reference returned by the upload endpoint.
type SendMsg struct {
	Type       string           `json:"type"`
	RoomID     string           `json:"room_id"`
	Body       string           `json:"body"`
	Kind       chat.Kind        `json:"kind"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// TypingMsg starts or stops the typing indicator, depending on Type.
type TypingMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// TogglePinMsg pins or unpins a message.
type TogglePinMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Pinned    bool   `json:"pinned"`
}

// EditMsg replaces the body of a message.
type EditMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// DeleteMsg removes a message.
type DeleteMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// ReportMsg flags a message for moderator review.
type ReportMsg struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once the connection is authenticated and
// upgraded.
type SessionCreatedMsg struct {
	Type   string        `json:"type"`
	ConnID string        `json:"conn_id"`
	User   auth.Identity `json:"user"`
}

// HistoryMsg carries the most recent visible messages of a room to a
// connection that just joined.
type HistoryMsg struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id"`
	Messages []*chat.Message `json:"messages"`
}

// PresenceCountMsg announces the number of connections in a room.
type PresenceCountMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

// ParticipantMsg announces a participant joining or leaving, and relays
// typing indicators.
type ParticipantMsg struct {
	Type   string        `json:"type"`
	RoomID string        `json:"room_id"`
	User   auth.Identity `json:"user"`
}

// MessageMsg carries a full message: new, updated, hidden or pinned.
type MessageMsg struct {
	Type    string        `json:"type"`
	RoomID  string        `json:"room_id"`
	Message *chat.Message `json:"message"`
}

// MessageDeletedMsg tells a room that a message is gone.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// RoomClearedMsg tells a room that an administrator removed all messages.
type RoomClearedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ReportAcceptedMsg confirms a report to its author.
type ReportAcceptedMsg struct {
	Type      string `json:"type"`
	ReportID  string `json:"report_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg reports a failed command to the connection that issued it.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTogglePin:
		var m TogglePinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEdit:
		var m EditMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDelete:
		var m DeleteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
