package moderation

import (
	"context"
	"time"

	"github.com/moviemark/studio-chat/internal/chat"
)

// EventKind names a live room effect of an administrator action.
type EventKind string

const (
	EventMessageUpdated EventKind = "message_updated"
	EventMessageDeleted EventKind = "message_deleted"
	EventMessageHidden  EventKind = "message_hidden"
	EventRoomCleared    EventKind = "room_cleared"
)

// Event is published by the moderator process on room.events.<room> and
// replayed by every gateway into the room's dispatcher.
type Event struct {
	Kind      EventKind     `json:"kind"`
	RoomID    string        `json:"room_id"`
	MessageID string        `json:"message_id,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	At        time.Time     `json:"at"`
}

// Notifier delivers room events to connected participants.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// TranscriptEntry is one flat row of a room export.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Edited    bool      `json:"edited"`
	Reported  bool      `json:"reported"`
	Blocked   bool      `json:"blocked"`
}

// RoomOverview is a room summary with its live report total.
type RoomOverview struct {
	chat.RoomSummary
	ReportCount int `json:"report_count"`
}

// Stats are the dashboard counters.
type Stats struct {
	Messages       int64 `json:"messages"`
	Reports        int64 `json:"reports"`
	PendingReports int64 `json:"pending_reports"`
	Rooms          int   `json:"rooms"`
	BlockedUsers   int64 `json:"blocked_users"`
}
