package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/moderation"
)

// loopback delivers published messages to subscribers whose pattern matches,
// synchronously.
type loopback struct {
	mu   sync.Mutex
	subs map[string]func(*nats.Msg)
	err  error
}

func (l *loopback) Publish(subject string, data []byte) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	var hs []func(*nats.Msg)
	for pattern, h := range l.subs {
		if strings.HasSuffix(pattern, ".>") && strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">")) || pattern == subject {
			hs = append(hs, h)
		}
	}
	l.mu.Unlock()
	for _, h := range hs {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (l *loopback) Subscribe(subject string, handler func(*nats.Msg)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[string]func(*nats.Msg))
	}
	l.subs[subject] = handler
	return nil
}

type sink struct {
	mu     sync.Mutex
	events []moderation.Event
}

func (s *sink) Notify(_ context.Context, ev moderation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sink) all() []moderation.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]moderation.Event(nil), s.events...)
}

func TestRoomEventRoundTrip(t *testing.T) {
	bus := &loopback{}
	got := &sink{}
	require.NoError(t, SubscribeRoomEvents(bus, got, time.Second, nil))

	pub := NewEventPublisher(bus)
	msg := &chat.Message{ID: "m1", RoomID: "p1", Body: "fixed typo", Edited: true}
	require.NoError(t, pub.Notify(context.Background(), moderation.Event{
		Kind: moderation.EventMessageUpdated, RoomID: "p1", MessageID: "m1", Message: msg,
	}))
	require.NoError(t, pub.Notify(context.Background(), moderation.Event{
		Kind: moderation.EventRoomCleared, RoomID: "p2",
	}))

	evs := got.all()
	require.Len(t, evs, 2)
	assert.Equal(t, moderation.EventMessageUpdated, evs[0].Kind)
	assert.Equal(t, "p1", evs[0].RoomID)
	require.NotNil(t, evs[0].Message)
	assert.Equal(t, "fixed typo", evs[0].Message.Body)
	assert.False(t, evs[0].At.IsZero())
	assert.Equal(t, moderation.EventRoomCleared, evs[1].Kind)
}

func TestPublishErrors(t *testing.T) {
	pub := NewEventPublisher(&loopback{err: errors.New("nats: connection closed")})

	err := pub.Notify(context.Background(), moderation.Event{Kind: moderation.EventRoomCleared, RoomID: "p1"})
	assert.ErrorContains(t, err, "connection closed")

	err = pub.Notify(context.Background(), moderation.Event{Kind: moderation.EventRoomCleared})
	assert.Error(t, err)
}

func TestMalformedEventIsDropped(t *testing.T) {
	bus := &loopback{}
	got := &sink{}
	require.NoError(t, SubscribeRoomEvents(bus, got, time.Second, nil))

	require.NoError(t, bus.Publish(RoomEventsSubject("p1"), []byte("{not json")))
	assert.Empty(t, got.all())
}

func TestNATSRoomEvents(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	client, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer client.Close()

	got := &sink{}
	require.NoError(t, SubscribeRoomEvents(client, got, time.Second, nil))
	require.NoError(t, client.Flush(time.Second))

	require.NoError(t, NewEventPublisher(client).Notify(context.Background(), moderation.Event{
		Kind: moderation.EventMessageDeleted, RoomID: "proj-42", MessageID: "m9",
	}))

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "m9", got.all()[0].MessageID)
}
