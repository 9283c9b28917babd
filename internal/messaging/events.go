package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/moderation"
)

// Conn is the part of a NATS client the room event helpers use.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(msg *nats.Msg)) error
}

// EventPublisher publishes moderation events on room.events.<room>. It
// satisfies moderation.Notifier.
type EventPublisher struct {
	conn Conn
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(conn Conn) *EventPublisher {
	return &EventPublisher{conn: conn}
}

// Notify publishes ev. Delivery is at most once; gateways that miss an event
// still serve the correct state from the store on the next history read.
func (p *EventPublisher) Notify(_ context.Context, ev moderation.Event) error {
	if ev.RoomID == "" {
		return fmt.Errorf("messaging: publish %s: empty room id", ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal %s: %w", ev.Kind, err)
	}
	if err := p.conn.Publish(RoomEventsSubject(ev.RoomID), data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// SubscribeRoomEvents feeds every room event into sink, each under its own
// timeout. Undecodable payloads are logged and dropped.
func SubscribeRoomEvents(conn Conn, sink moderation.Notifier, timeout time.Duration, log *logrus.Entry) error {
	log = logging.OrDiscard(log)
	return conn.Subscribe(SubjectRoomEvents+".>", func(msg *nats.Msg) {
		var ev moderation.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed room event")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sink.Notify(ctx, ev); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"room_id": ev.RoomID,
				"kind":    ev.Kind,
			}).Warn("room event not delivered")
		}
	})
}
