// Package gateway runs the live side of project rooms. Every command that
// changes what a room sees (join, leave, send, pin, edit, delete and
// administrator events) is executed by a single dispatcher goroutine owned by
// that room, so all members observe the same order. A frame is broadcast
// only after the store accepted the change; a failed command is answered to
// its originator alone.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/attachment"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/presence"
	"github.com/moviemark/studio-chat/internal/report"
)

// Config tunes the gateway.
type Config struct {
	PersistTimeout   time.Duration // per-command deadline, store call included
	HistoryLimit     int           // messages sent to a joining connection
	PinRequiresOwner bool          // restrict pinning to sender or administrator
	IdleTimeout      time.Duration // an empty room's dispatcher exits after this
	QueueSize        int           // buffered commands per room
	TypingRate       rate.Limit    // typing events per second per connection
	TypingBurst      int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PersistTimeout: 5 * time.Second,
		HistoryLimit:   50,
		IdleTimeout:    30 * time.Second,
		QueueSize:      64,
		TypingRate:     rate.Every(500 * time.Millisecond),
		TypingBurst:    3,
	}
}

// Client is a connected participant.
type Client interface {
	ConnID() string
	Identity() auth.Identity
	WriteMessage(data []byte) error
}

// Messages is the message service used by the gateway.
type Messages interface {
	Post(ctx context.Context, author auth.Identity, d chat.Draft) (*chat.Message, error)
	Get(ctx context.Context, id string) (*chat.Message, error)
	History(ctx context.Context, roomID string, limit int) ([]*chat.Message, error)
	Edit(ctx context.Context, actor auth.Identity, id, body string) (*chat.Message, error)
	Delete(ctx context.Context, actor auth.Identity, id string) (*chat.Message, error)
	SetPinned(ctx context.Context, actor auth.Identity, id string, pinned, ownerOnly bool) (*chat.Message, error)
}

// Reporter files participant reports.
type Reporter interface {
	Report(ctx context.Context, reporter auth.Identity, messageID, reason, description string) (*report.Report, error)
}

// Directory answers whether a project room exists.
type Directory interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// BlockChecker reports whether a user may no longer send.
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

// Attachments resolves attachment references to validated uploads.
type Attachments interface {
	Resolve(ctx context.Context, url string) (attachment.Reference, error)
}

// Limiter throttles sends per user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (allowed bool, retryAfter time.Duration, err error)
}

// Deps are the gateway's collaborators. Reports, Blocks, Attachments and
// Limiter may be nil.
type Deps struct {
	Presence    *presence.Manager
	Messages    Messages
	Reports     Reporter
	Directory   Directory
	Blocks      BlockChecker
	Attachments Attachments
	Limiter     Limiter
	Log         *logrus.Entry
}

// Gateway owns the room dispatchers.
type Gateway struct {
	cfg         Config
	presence    *presence.Manager
	messages    Messages
	reports     Reporter
	directory   Directory
	blocks      BlockChecker
	attachments Attachments
	limiter     Limiter
	log         *logrus.Entry

	mu     sync.Mutex
	rooms  map[string]*room
	typing map[string]*rate.Limiter // conn id -> typing throttle
	gone   map[string]time.Time     // conn id -> disconnected at
	pruned time.Time
	closed bool
	stop   chan struct{}
	done   chan struct{} // closed once every dispatcher has exited
	wg     sync.WaitGroup
}

// New creates a Gateway.
func New(cfg Config, d Deps) *Gateway {
	def := DefaultConfig()
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TypingRate <= 0 {
		cfg.TypingRate = def.TypingRate
	}
	if cfg.TypingBurst <= 0 {
		cfg.TypingBurst = def.TypingBurst
	}
	pm := d.Presence
	if pm == nil {
		pm = presence.NewManager()
	}
	return &Gateway{
		cfg:         cfg,
		presence:    pm,
		messages:    d.Messages,
		reports:     d.Reports,
		directory:   d.Directory,
		blocks:      d.Blocks,
		attachments: d.Attachments,
		limiter:     d.Limiter,
		log:         logging.OrDiscard(d.Log),
		rooms:       make(map[string]*room),
		typing:      make(map[string]*rate.Limiter),
		gone:        make(map[string]time.Time),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Presence exposes the membership registry.
func (g *Gateway) Presence() *presence.Manager {
	return g.presence
}

// Join subscribes c to roomID after checking that the project exists. The
// joiner receives the room history; the room receives the new presence count
// and, when the connection was not already a member, participant_joined.
func (g *Gateway) Join(ctx context.Context, c Client, roomID string) error {
	if roomID == "" {
		return apperr.New(apperr.ErrInvalid, "room id is required")
	}
	if g.directory != nil {
		ok, err := g.directory.Exists(ctx, roomID)
		if err != nil {
			return apperr.Internal(err)
		}
		if !ok {
			return apperr.New(apperr.ErrNotFound, "project %s", roomID)
		}
	}
	if g.isGone(c.ConnID()) {
		return errDisconnected(c.ConnID())
	}
	return g.submit(ctx, roomID, command{kind: cmdJoin, client: c})
}

// Leave unsubscribes c from roomID. Leaving a room twice is harmless.
func (g *Gateway) Leave(ctx context.Context, c Client, roomID string) error {
	if !g.presence.IsMember(roomID, c.ConnID()) {
		return nil
	}
	return g.submit(ctx, roomID, command{kind: cmdLeave, client: c})
}

// Disconnect removes c from every room it joined, through the same path as
// Leave. It is safe to call more than once. The connection is remembered as
// gone, so a join that is still queued for it does not add it back.
func (g *Gateway) Disconnect(c Client) {
	now := time.Now()
	g.mu.Lock()
	delete(g.typing, c.ConnID())
	g.pruneGone(now)
	g.gone[c.ConnID()] = now
	rooms := g.presence.Rooms(c.ConnID())
	g.mu.Unlock()

	for _, roomID := range rooms {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PersistTimeout)
		if err := g.Leave(ctx, c, roomID); err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "conn_id": c.ConnID()}).Warn("leave on disconnect failed")
		}
		cancel()
	}
}

// goneRetention is how long a disconnected connection id is remembered.
// Any join issued before the disconnect has finished long before that.
func (g *Gateway) goneRetention() time.Duration {
	if d := 4 * g.cfg.PersistTimeout; d > time.Minute {
		return d
	}
	return time.Minute
}

// pruneGone forgets old disconnects. g.mu must be held.
func (g *Gateway) pruneGone(now time.Time) {
	keep := g.goneRetention()
	if now.Sub(g.pruned) < keep {
		return
	}
	for id, at := range g.gone {
		if now.Sub(at) >= keep {
			delete(g.gone, id)
		}
	}
	g.pruned = now
}

// joinLive adds a live connection to roomID. It reports ok=false when the
// connection has already disconnected. Holding g.mu orders it against
// Disconnect: either the join lands first and Disconnect sees the room, or
// Disconnect lands first and the join is refused.
func (g *Gateway) joinLive(roomID string, m presence.Member) (count int, added, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, gone := g.gone[m.ConnID]; gone {
		return 0, false, false
	}
	count, added = g.presence.Join(roomID, m)
	return count, added, true
}

func (g *Gateway) isGone(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, gone := g.gone[connID]
	return gone
}

// Send posts a message to roomID on behalf of c.
func (g *Gateway) Send(ctx context.Context, c Client, roomID, body string, kind chat.Kind, att *chat.Attachment) error {
	user := c.Identity()
	if !g.presence.IsMember(roomID, c.ConnID()) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return apperr.New(apperr.ErrForbidden, "join room %s before sending", roomID)
	}
	if g.blocks != nil {
		blocked, err := g.blocks.IsBlocked(ctx, user.UserID)
		if err != nil {
			return apperr.Internal(err)
		}
		if blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			return apperr.New(apperr.ErrForbidden, "user %s is blocked", user.UserID)
		}
	}
	if g.limiter != nil {
		allowed, retry, err := g.limiter.Allow(ctx, user.UserID)
		if err != nil {
			g.log.WithError(err).WithField("user_id", user.UserID).Warn("rate limiter unavailable")
		} else if !allowed {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			return &RateLimitedError{RetryAfter: retry}
		}
	}

	if kind == "" {
		kind = chat.KindText
	}
	draft := chat.Draft{RoomID: roomID, Body: body, Kind: kind}
	if kind == chat.KindFile {
		if att == nil {
			return apperr.New(apperr.ErrInvalid, "file message needs an attachment")
		}
		if g.attachments == nil {
			return apperr.New(apperr.ErrUnsupportedMediaType, "attachments are not enabled")
		}
		ref, err := g.attachments.Resolve(ctx, att.URL)
		if err != nil {
			return err
		}
		draft.Attachment = &chat.Attachment{URL: ref.URL, Name: ref.Name, MediaType: ref.MediaType}
	}
	if kind == chat.KindText {
		if err := chat.ValidateBody(body); err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return err
		}
	}
	return g.submit(ctx, roomID, command{kind: cmdSend, client: c, draft: draft})
}

// TogglePin pins or unpins a message. Room membership is required; with
// PinRequiresOwner the caller must also be the sender or an administrator.
func (g *Gateway) TogglePin(ctx context.Context, c Client, messageID string, pinned bool) error {
	m, err := g.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	return g.submit(ctx, m.RoomID, command{kind: cmdPin, client: c, messageID: messageID, pinned: pinned})
}

// Edit replaces the body of a message. Only the sender or an administrator
// may edit.
func (g *Gateway) Edit(ctx context.Context, c Client, messageID, body string) error {
	m, err := g.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	return g.submit(ctx, m.RoomID, command{kind: cmdEdit, client: c, messageID: messageID, body: body})
}

// Delete removes a message. Only the sender or an administrator may delete.
func (g *Gateway) Delete(ctx context.Context, c Client, messageID string) error {
	m, err := g.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	return g.submit(ctx, m.RoomID, command{kind: cmdDelete, client: c, messageID: messageID})
}

// Report files a report and confirms it to the reporter only. Nothing in
// the room changes, so it does not go through the dispatcher.
func (g *Gateway) Report(ctx context.Context, c Client, messageID, reason, description string) error {
	if g.reports == nil {
		return apperr.New(apperr.ErrInvalid, "reporting is not enabled")
	}
	r, err := g.reports.Report(ctx, c.Identity(), messageID, reason, description)
	if err != nil {
		return err
	}
	return g.sendTo(c, typeReportAccepted(r))
}

// Typing relays a typing indicator to the other members of roomID. Excess
// typing events are dropped.
func (g *Gateway) Typing(c Client, roomID string, typing bool) error {
	if !g.presence.IsMember(roomID, c.ConnID()) {
		return apperr.New(apperr.ErrForbidden, "join room %s first", roomID)
	}
	if typing && !g.typingLimiter(c.ConnID()).Allow() {
		return nil
	}
	frame, err := typingFrame(roomID, c.Identity(), typing)
	if err != nil {
		return apperr.Internal(err)
	}
	g.fanout(roomID, frame, c.ConnID())
	return nil
}

func (g *Gateway) typingLimiter(connID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.typing[connID]
	if !ok {
		l = rate.NewLimiter(g.cfg.TypingRate, g.cfg.TypingBurst)
		g.typing[connID] = l
	}
	return l
}

// RoomCount returns the number of running room dispatchers.
func (g *Gateway) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every room dispatcher. Commands still queued are answered
// with an error.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.stop)
	g.mu.Unlock()
	g.wg.Wait()
	close(g.done)
}

// RateLimitedError is returned by Send when the user exceeded the send rate.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "rate limited: retry after " + e.RetryAfter.String()
}

func (e *RateLimitedError) Unwrap() error { return apperr.ErrRateLimited }

var errClosed = errors.New("gateway: closed")

func errDisconnected(connID string) error {
	return apperr.New(apperr.ErrConflict, "connection %s is closed", connID)
}
