// Package chat owns the durable, ordered message log of every project room
// and the rules for who may change a message.
package chat

import (
	"time"

	"github.com/moviemark/studio-chat/internal/auth"
)

// Kind is the content kind of a message.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Attachment describes a validated upload referenced by a file message.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
}

// Message is one entry in a room's log. ReportCount and Reported are not
// stored; they are filled in from the report store whenever messages are read.
type Message struct {
	ID          string      `json:"id"`
	Seq         int64       `json:"seq"`
	RoomID      string      `json:"room_id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	SenderRole  auth.Role   `json:"sender_role"`
	Body        string      `json:"body"`
	Kind        Kind        `json:"kind"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	Edited      bool        `json:"edited"`
	Blocked     bool        `json:"blocked"`
	Pinned      bool        `json:"pinned"`
	ReportCount int         `json:"report_count"`
	Reported    bool        `json:"reported"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Draft is the input for a new message.
type Draft struct {
	RoomID     string
	Body       string
	Kind       Kind
	Attachment *Attachment
	CreatedAt  time.Time // zero means now
}

// RoomSummary is the per-room overview used by the admin room list.
type RoomSummary struct {
	RoomID           string    `json:"room_id"`
	MessageCount     int64     `json:"message_count"`
	ParticipantCount int64     `json:"participant_count"`
	LastMessage      string    `json:"last_message"`
	LastMessageAt    time.Time `json:"last_message_at"`
}

// ListOptions controls ListRoom.
type ListOptions struct {
	Limit          int  // most recent N messages; 0 means all
	IncludeBlocked bool // admin transcript view
}
