package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/attachment"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/block"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/moderation"
	"github.com/moviemark/studio-chat/internal/report"
)

var (
	alice = auth.Identity{UserID: "u-alice", Name: "Alice", Role: auth.RoleParticipant}
	bob   = auth.Identity{UserID: "u-bob", Name: "Bob", Role: auth.RoleParticipant}
	carol = auth.Identity{UserID: "u-carol", Name: "Carol", Role: auth.RoleParticipant}
	admin = auth.Identity{UserID: "u-admin", Name: "Admin", Role: auth.RoleAdministrator}
)

// received is the union of the server frames the tests look at.
type received struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"room_id"`
	Count      int             `json:"count"`
	Code       string          `json:"code"`
	Request    string          `json:"request"`
	MessageID  string          `json:"message_id"`
	ReportID   string          `json:"report_id"`
	Status     string          `json:"status"`
	RetryAfter int             `json:"retry_after"`
	User       auth.Identity   `json:"user"`
	Messages   []*chat.Message `json:"messages"`
	RawMessage json.RawMessage `json:"message"`

	// "message" is a chat message on most frames and a string on errors.
	Message *chat.Message `json:"-"`
	Text    string        `json:"-"`
}

// recorder is a Client that keeps every frame written to it.
type recorder struct {
	id   string
	user auth.Identity

	mu     sync.Mutex
	frames []received
}

func newRecorder(id string, user auth.Identity) *recorder {
	return &recorder{id: id, user: user}
}

func (r *recorder) ConnID() string          { return r.id }
func (r *recorder) Identity() auth.Identity { return r.user }

func (r *recorder) WriteMessage(data []byte) error {
	var f received
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if len(f.RawMessage) > 0 {
		var err error
		if f.Type == "error" {
			err = json.Unmarshal(f.RawMessage, &f.Text)
		} else {
			err = json.Unmarshal(f.RawMessage, &f.Message)
		}
		if err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(typ string) []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []received
	for _, f := range r.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) last(typ string) (received, bool) {
	fs := r.ofType(typ)
	if len(fs) == 0 {
		return received{}, false
	}
	return fs[len(fs)-1], true
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

type staticDirectory map[string]bool

func (d staticDirectory) Exists(_ context.Context, id string) (bool, error) {
	return d[id], nil
}

// countingLimiter allows the first n sends per user.
type countingLimiter struct {
	n    int
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, userID string) (bool, time.Duration, error) {
	if l.err != nil {
		return true, 0, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[userID]++
	if l.seen[userID] > l.n {
		return false, 1500 * time.Millisecond, nil
	}
	return true, 0, nil
}

// flakyStore fails Create while fail is set and commits after delay.
type flakyStore struct {
	*chat.MemoryStore
	fail  atomic.Bool
	delay atomic.Int64
}

func (s *flakyStore) Create(ctx context.Context, m *chat.Message) error {
	if s.fail.Load() {
		return errors.New("connection reset by peer")
	}
	if d := time.Duration(s.delay.Load()); d > 0 {
		time.Sleep(d)
	}
	return s.MemoryStore.Create(ctx, m)
}

// stalledHistory holds History until release is closed.
type stalledHistory struct {
	Messages
	entered chan struct{}
	release chan struct{}
}

func (s *stalledHistory) History(ctx context.Context, roomID string, limit int) ([]*chat.Message, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Messages.History(ctx, roomID, limit)
}

type fixture struct {
	gw       *Gateway
	store    *flakyStore
	messages *chat.Service
	reports  *report.MemoryStore
	blocks   *block.MemoryStore
	engine   *moderation.Engine
}

func newFixture(t *testing.T, cfg Config, opts ...func(*Deps)) *fixture {
	t.Helper()
	store := &flakyStore{MemoryStore: chat.NewMemoryStore()}
	reports := report.NewMemoryStore(store)
	messages := chat.NewService(store, reports, nil, nil)
	blocks := block.NewMemoryStore()

	f := &fixture{store: store, messages: messages, reports: reports, blocks: blocks}
	f.engine = moderation.NewEngine(moderation.Deps{
		Messages: messages,
		Reports:  reports,
		Blocks:   blocks,
		Audit:    moderation.NewMemoryAudit(),
		Notifier: moderation.NotifierFunc(func(ctx context.Context, ev moderation.Event) error {
			return f.gw.Notify(ctx, ev)
		}),
	})

	d := Deps{
		Messages:  messages,
		Reports:   f.engine,
		Directory: staticDirectory{"p1": true, "p2": true},
		Blocks:    blocks,
	}
	for _, o := range opts {
		o(&d)
	}
	f.gw = New(cfg, d)
	t.Cleanup(f.gw.Close)
	return f
}

func (f *fixture) join(t *testing.T, room string, cs ...*recorder) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, f.gw.Join(context.Background(), c, room))
	}
}

func (f *fixture) send(t *testing.T, c *recorder, room, body string) *chat.Message {
	t.Helper()
	require.NoError(t, f.gw.Send(context.Background(), c, room, body, chat.KindText, nil))
	m, ok := c.last("message")
	require.True(t, ok, "sender should see its own message")
	return m.Message
}

func TestJoinSendsHistoryAndAnnouncesPresence(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)

	f.join(t, "p1", a)
	f.send(t, a, "p1", "before bob")
	f.join(t, "p1", b)

	h, ok := b.last("history")
	require.True(t, ok)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "before bob", h.Messages[0].Body)

	cnt, ok := a.last("presence_count")
	require.True(t, ok)
	assert.Equal(t, 2, cnt.Count)
	cnt, ok = b.last("presence_count")
	require.True(t, ok)
	assert.Equal(t, 2, cnt.Count)

	joined := a.ofType("participant_joined")
	require.Len(t, joined, 1)
	assert.Equal(t, bob.UserID, joined[0].User.UserID)
	assert.Empty(t, b.ofType("participant_joined"), "joiner is not told about itself")
}

func TestJoinTwiceDoesNotReannounce(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)
	a.reset()
	b.reset()

	f.join(t, "p1", b)

	assert.Empty(t, a.ofType("participant_joined"))
	assert.Empty(t, a.ofType("presence_count"))
	cnt, ok := b.last("presence_count")
	require.True(t, ok)
	assert.Equal(t, 2, cnt.Count)
	assert.Equal(t, 2, f.gw.Presence().Count("p1"))
}

func TestJoinUnknownProject(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)

	err := f.gw.Join(context.Background(), a, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, f.gw.Presence().IsMember("nope", "c-a"))
	assert.Zero(t, f.gw.RoomCount())
}

func TestSendRequiresMembership(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a)

	err := f.gw.Send(context.Background(), b, "p1", "sneaky", chat.KindText, nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Empty(t, a.ofType("message"))
}

func TestSendValidatesBody(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)

	err := f.gw.Send(context.Background(), a, "p1", "   ", chat.KindText, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	err = f.gw.Send(context.Background(), a, "p1", strings.Repeat("x", chat.MaxTextChars+1), chat.KindText, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	assert.Empty(t, a.ofType("message"))
}

func TestConcurrentSendsAreSeenInPersistedOrder(t *testing.T) {
	f := newFixture(t, Config{})
	clients := []*recorder{
		newRecorder("c-a", alice),
		newRecorder("c-b", bob),
		newRecorder("c-c", carol),
	}
	f.join(t, "p1", clients...)

	const perClient = 20
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *recorder) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				err := f.gw.Send(context.Background(), c, "p1", fmt.Sprintf("%s-%d", c.id, i), chat.KindText, nil)
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	stored, err := f.messages.Transcript(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, stored, perClient*len(clients))

	for _, c := range clients {
		frames := c.ofType("message")
		require.Len(t, frames, len(stored), c.id)
		for i, fr := range frames {
			assert.Equal(t, stored[i].ID, fr.Message.ID, "%s frame %d", c.id, i)
			if i > 0 {
				assert.False(t, fr.Message.CreatedAt.Before(frames[i-1].Message.CreatedAt), "created_at went backwards")
			}
		}
	}
}

func TestStoreFailureIsReportedToSenderOnly(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)

	f.store.fail.Store(true)
	f.gw.handle(a, "send", func(ctx context.Context) error {
		return f.gw.Send(ctx, a, "p1", "lost", chat.KindText, nil)
	})

	e, ok := a.last("error")
	require.True(t, ok)
	assert.Equal(t, "internal", e.Code)
	assert.Equal(t, "send", e.Request)
	assert.Equal(t, "internal error", e.Text)
	assert.Empty(t, a.ofType("message"))
	assert.Empty(t, b.ofType("message"))
	assert.Empty(t, b.ofType("error"))

	f.store.fail.Store(false)
	f.send(t, a, "p1", "recovered")
	assert.Len(t, b.ofType("message"), 1)
}

func TestBlockedUserCannotSend(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)
	earlier := f.send(t, b, "p1", "before the block")

	require.NoError(t, f.engine.BlockUser(context.Background(), admin, bob.UserID, true))

	err := f.gw.Send(context.Background(), b, "p1", "after the block", chat.KindText, nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Len(t, a.ofType("message"), 1)

	// earlier messages stay visible
	got, err := f.messages.Get(context.Background(), earlier.ID)
	require.NoError(t, err)
	assert.False(t, got.Blocked)

	require.NoError(t, f.engine.BlockUser(context.Background(), admin, bob.UserID, false))
	f.send(t, b, "p1", "welcome back")
}

func TestRateLimitedSendGetsRetryHint(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Limiter = &countingLimiter{n: 2}
	})
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)

	f.send(t, a, "p1", "one")
	f.send(t, a, "p1", "two")

	err := f.gw.Send(context.Background(), a, "p1", "three", chat.KindText, nil)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	f.gw.replyError(a, "send", err)
	fr, ok := a.last("rate_limited")
	require.True(t, ok)
	assert.Equal(t, 2, fr.RetryAfter)
	assert.Len(t, a.ofType("message"), 2)
}

func TestLimiterOutageFailsOpen(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Limiter = &countingLimiter{err: errors.New("redis down")}
	})
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)

	f.send(t, a, "p1", "still flowing")
}

func TestPinPolicies(t *testing.T) {
	t.Run("membership is enough by default", func(t *testing.T) {
		f := newFixture(t, Config{})
		a := newRecorder("c-a", alice)
		b := newRecorder("c-b", bob)
		f.join(t, "p1", a, b)
		m := f.send(t, a, "p1", "pin me")

		require.NoError(t, f.gw.TogglePin(context.Background(), b, m.ID, true))
		fr, ok := a.last("message_pinned")
		require.True(t, ok)
		assert.True(t, fr.Message.Pinned)

		outsider := newRecorder("c-c", carol)
		err := f.gw.TogglePin(context.Background(), outsider, m.ID, false)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("owner or administrator when strict", func(t *testing.T) {
		f := newFixture(t, Config{PinRequiresOwner: true})
		a := newRecorder("c-a", alice)
		b := newRecorder("c-b", bob)
		boss := newRecorder("c-admin", admin)
		f.join(t, "p1", a, b, boss)
		m := f.send(t, a, "p1", "pin me")

		err := f.gw.TogglePin(context.Background(), b, m.ID, true)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
		assert.Empty(t, a.ofType("message_pinned"))

		require.NoError(t, f.gw.TogglePin(context.Background(), a, m.ID, true))
		require.NoError(t, f.gw.TogglePin(context.Background(), boss, m.ID, false))
		pins := b.ofType("message_pinned")
		require.Len(t, pins, 2)
		assert.False(t, pins[1].Message.Pinned)
	})
}

func TestEditAndDeleteByOwner(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)
	m := f.send(t, a, "p1", "first draft")

	err := f.gw.Edit(context.Background(), b, m.ID, "not yours")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, f.gw.Edit(context.Background(), a, m.ID, "second draft"))
	up, ok := b.last("message_updated")
	require.True(t, ok)
	assert.Equal(t, "second draft", up.Message.Body)
	assert.True(t, up.Message.Edited)

	require.NoError(t, f.gw.Delete(context.Background(), a, m.ID))
	del, ok := b.last("message_deleted")
	require.True(t, ok)
	assert.Equal(t, m.ID, del.MessageID)

	err = f.gw.Delete(context.Background(), a, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReportAndModerationFlow(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)

	m := f.send(t, a, "p1", "hello")
	require.NoError(t, f.gw.Edit(ctx, a, m.ID, "hello there"))
	upd, ok := b.last("message_updated")
	require.True(t, ok)
	assert.Equal(t, m.ID, upd.Message.ID)
	assert.Equal(t, "hello there", upd.Message.Body)
	assert.True(t, upd.Message.Edited)

	require.NoError(t, f.gw.Report(ctx, b, m.ID, "spam", "keeps posting"))
	ack, ok := b.last("report_accepted")
	require.True(t, ok)
	assert.Equal(t, m.ID, ack.MessageID)
	assert.Equal(t, "pending", ack.Status)
	assert.Empty(t, a.ofType("report_accepted"))

	err := f.gw.Report(ctx, b, m.ID, "spam", "")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := f.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReportCount)

	resolved, err := f.engine.ReviewReport(ctx, admin, ack.ReportID, report.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, report.StatusResolved, resolved.Status)

	_, err = f.engine.ReviewReport(ctx, admin, ack.ReportID, report.StatusPending)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	require.NoError(t, f.engine.GlobalDelete(ctx, admin, m.ID))
	for _, c := range []*recorder{a, b} {
		del, ok := c.last("message_deleted")
		require.True(t, ok, c.id)
		assert.Equal(t, m.ID, del.MessageID)
	}
	left, err := f.engine.ListReports(ctx, admin, report.Filter{MessageID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestModerationEventsReachRoom(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)
	m := f.send(t, a, "p1", "rude words")

	_, err := f.engine.HideMessage(ctx, admin, m.ID, true)
	require.NoError(t, err)
	hidden, ok := a.last("message_hidden")
	require.True(t, ok)
	assert.True(t, hidden.Message.Blocked)

	_, err = f.engine.ClearRoom(ctx, admin, "p1")
	require.NoError(t, err)
	cleared, ok := a.last("room_cleared")
	require.True(t, ok)
	assert.Equal(t, "p1", cleared.RoomID)
}

func TestNotifySkipsEmptyRoom(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.gw.Notify(context.Background(), moderation.Event{Kind: moderation.EventRoomCleared, RoomID: "p2"})
	require.NoError(t, err)
	assert.Zero(t, f.gw.RoomCount())

	err = f.gw.Notify(context.Background(), moderation.Event{Kind: moderation.EventRoomCleared})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestTypingReachesOthersOnly(t *testing.T) {
	f := newFixture(t, Config{TypingBurst: 1, TypingRate: 0.001})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)

	require.NoError(t, f.gw.Typing(a, "p1", true))
	require.NoError(t, f.gw.Typing(a, "p1", true))
	require.NoError(t, f.gw.Typing(a, "p1", false))

	assert.Len(t, b.ofType("typing"), 1, "second typing event is throttled")
	assert.Len(t, b.ofType("stop_typing"), 1)
	assert.Empty(t, a.ofType("typing"))

	err := f.gw.Typing(newRecorder("c-c", carol), "p1", true)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestDisconnectAnnouncesOnce(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)
	f.join(t, "p2", b)
	a.reset()

	require.NoError(t, f.gw.Leave(context.Background(), b, "p1"))
	f.gw.Disconnect(b)
	f.gw.Disconnect(b)

	left := a.ofType("participant_left")
	require.Len(t, left, 1)
	assert.Equal(t, bob.UserID, left[0].User.UserID)
	cnt, ok := a.last("presence_count")
	require.True(t, ok)
	assert.Equal(t, 1, cnt.Count)
	assert.Empty(t, f.gw.Presence().Rooms("c-b"))
	assert.Zero(t, f.gw.Presence().Count("p2"))
}

func TestDisconnectDuringJoinLeavesNoPresence(t *testing.T) {
	stalled := &stalledHistory{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, Config{}, func(d *Deps) {
		stalled.Messages = d.Messages
		d.Messages = stalled
	})
	a := newRecorder("c-a", alice)

	errCh := make(chan error, 1)
	go func() { errCh <- f.gw.Join(context.Background(), a, "p1") }()
	<-stalled.entered
	f.gw.Disconnect(a)
	close(stalled.release)

	assert.ErrorIs(t, <-errCh, apperr.ErrConflict)
	assert.Zero(t, f.gw.Presence().Count("p1"))
	assert.False(t, f.gw.Presence().IsMember("p1", "c-a"))
	assert.Empty(t, a.ofType("history"))

	err := f.gw.Join(context.Background(), a, "p1")
	assert.ErrorIs(t, err, apperr.ErrConflict, "a disconnected connection cannot rejoin")
}

func TestLateCommitIsReportedAsSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	b := newRecorder("c-b", bob)
	f.join(t, "p1", a, b)

	f.store.delay.Store(int64(80 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := f.gw.Send(ctx, a, "p1", "slow but stored", chat.KindText, nil)
	require.NoError(t, err, "a committed message is never reported as failed")

	history, err := f.messages.History(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	msgs := b.ofType("message")
	require.Len(t, msgs, 1)
	assert.Equal(t, history[0].ID, msgs[0].Message.ID)
}

func TestIdleRoomDispatcherExits(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: 20 * time.Millisecond})
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)
	require.Equal(t, 1, f.gw.RoomCount())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.gw.RoomCount(), "room with a member keeps its dispatcher")

	f.gw.Disconnect(a)
	require.Eventually(t, func() bool { return f.gw.RoomCount() == 0 }, time.Second, 10*time.Millisecond)

	// a fresh dispatcher picks the room back up
	again := newRecorder("c-a2", alice)
	f.join(t, "p1", again)
	f.send(t, again, "p1", "back again")
	assert.Equal(t, 1, f.gw.RoomCount())
}

func TestFileMessageUsesResolvedAttachment(t *testing.T) {
	uploader := attachment.NewUploader(attachment.NewMemoryStore(), attachment.NewValidator(0), nil, nil)
	f := newFixture(t, Config{}, func(d *Deps) { d.Attachments = uploader })
	a := newRecorder("c-a", alice)
	f.join(t, "p1", a)

	ref, err := uploader.Upload(context.Background(), "Cut v2.PNG", "image/png", 4, strings.NewReader("\x89PNG"))
	require.NoError(t, err)

	err = f.gw.Send(context.Background(), a, "p1", "", chat.KindFile, &chat.Attachment{URL: ref.URL, Name: "spoofed.exe", MediaType: "application/x-msdownload"})
	require.NoError(t, err)
	fr, ok := a.last("message")
	require.True(t, ok)
	require.NotNil(t, fr.Message.Attachment)
	assert.Equal(t, "image/png", fr.Message.Attachment.MediaType)
	assert.Equal(t, ref.Name, fr.Message.Attachment.Name)

	err = f.gw.Send(context.Background(), a, "p1", "", chat.KindFile, &chat.Attachment{URL: "/uploads/missing.png"})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedMediaType)
	err = f.gw.Send(context.Background(), a, "p1", "", chat.KindFile, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestClosedGatewayRejectsCommands(t *testing.T) {
	f := newFixture(t, Config{})
	a := newRecorder("c-a", alice)
	f.gw.Close()

	err := f.gw.Join(context.Background(), a, "p1")
	assert.ErrorIs(t, err, apperr.ErrInternal)
}
