package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/moderation"
	"github.com/moviemark/studio-chat/internal/presence"
	"github.com/moviemark/studio-chat/internal/protocol"
)

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdSend
	cmdPin
	cmdEdit
	cmdDelete
	cmdEvent
)

func (k commandKind) String() string {
	switch k {
	case cmdJoin:
		return "join"
	case cmdLeave:
		return "leave"
	case cmdSend:
		return "send"
	case cmdPin:
		return "toggle_pin"
	case cmdEdit:
		return "edit"
	case cmdDelete:
		return "delete"
	case cmdEvent:
		return "event"
	}
	return "unknown"
}

// command is one unit of work for a room dispatcher. Only the fields used by
// its kind are set.
type command struct {
	kind      commandKind
	ctx       context.Context
	client    Client
	draft     chat.Draft
	messageID string
	body      string
	pinned    bool
	event     moderation.Event
	reply     chan error
}

// room is a live room. pending is guarded by Gateway.mu; lastTS is only
// touched by the room's own goroutine.
type room struct {
	id      string
	cmds    chan command
	pending int
	lastTS  time.Time
}

// submit hands cmd to the dispatcher of roomID, starting one if needed, and
// waits for the result. The pending counter is raised before the command is
// queued so an idle dispatcher never exits with work on the way. ctx bounds
// the wait for a queue slot; once queued, the dispatcher's answer is final
// because the command may already have been persisted and broadcast.
func (g *Gateway) submit(ctx context.Context, roomID string, cmd command) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return apperr.Internal(errClosed)
	}
	r, ok := g.rooms[roomID]
	if !ok {
		r = &room{id: roomID, cmds: make(chan command, g.cfg.QueueSize)}
		g.rooms[roomID] = r
		g.wg.Add(1)
		metrics.RoomDispatchers.Inc()
		go g.run(r)
	}
	r.pending++
	g.mu.Unlock()

	cmd.ctx = ctx
	cmd.reply = make(chan error, 1)
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		g.unqueue(r)
		return apperr.Internal(ctx.Err())
	case <-g.stop:
		g.unqueue(r)
		return apperr.Internal(errClosed)
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-g.done:
		// The dispatcher drained its queue before this command arrived.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return apperr.Internal(errClosed)
		}
	}
}

func (g *Gateway) unqueue(r *room) {
	g.mu.Lock()
	r.pending--
	g.mu.Unlock()
}

// run is the room dispatcher loop.
func (g *Gateway) run(r *room) {
	defer g.wg.Done()
	defer metrics.RoomDispatchers.Dec()

	idle := time.NewTimer(g.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case cmd := <-r.cmds:
			cmd.reply <- g.execute(r, cmd)
			g.mu.Lock()
			r.pending--
			g.mu.Unlock()
			idle.Reset(g.cfg.IdleTimeout)

		case <-idle.C:
			g.mu.Lock()
			if r.pending == 0 && g.presence.Count(r.id) == 0 {
				delete(g.rooms, r.id)
				g.mu.Unlock()
				g.log.WithField("room_id", r.id).Debug("room dispatcher idle, exiting")
				return
			}
			g.mu.Unlock()
			idle.Reset(g.cfg.IdleTimeout)

		case <-g.stop:
			for {
				select {
				case cmd := <-r.cmds:
					cmd.reply <- apperr.Internal(errClosed)
				default:
					return
				}
			}
		}
	}
}

func (g *Gateway) execute(r *room, cmd command) error {
	if err := cmd.ctx.Err(); err != nil {
		return apperr.Internal(err)
	}
	var err error
	switch cmd.kind {
	case cmdJoin:
		err = g.doJoin(r, cmd)
	case cmdLeave:
		g.doLeave(r, cmd.client.ConnID())
	case cmdSend:
		err = g.doSend(r, cmd)
	case cmdPin:
		err = g.doPin(r, cmd)
	case cmdEdit:
		err = g.doEdit(r, cmd)
	case cmdDelete:
		err = g.doDelete(r, cmd)
	case cmdEvent:
		err = g.doEvent(r, cmd.event)
	}
	if err != nil && apperr.Code(err) == "internal" {
		fields := logrus.Fields{"room_id": r.id, "command": cmd.kind.String()}
		if cmd.client != nil {
			fields["conn_id"] = cmd.client.ConnID()
		}
		g.log.WithError(err).WithFields(fields).Error("room command failed")
	}
	return err
}

func (g *Gateway) doJoin(r *room, cmd command) error {
	history, err := g.messages.History(cmd.ctx, r.id, g.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	c := cmd.client
	count, added, ok := g.joinLive(r.id, presence.Member{ConnID: c.ConnID(), User: c.Identity(), Conn: c})
	if !ok {
		return errDisconnected(c.ConnID())
	}

	if history == nil {
		history = []*chat.Message{}
	}
	if err := g.sendTo(c, frame{protocol.TypeHistory, protocol.HistoryMsg{RoomID: r.id, Messages: history}}); err != nil {
		g.log.WithError(err).WithField("conn_id", c.ConnID()).Debug("history not delivered")
	}

	countFrame := frame{protocol.TypePresenceCount, protocol.PresenceCountMsg{RoomID: r.id, Count: count}}
	if !added {
		return g.sendTo(c, countFrame)
	}
	g.broadcast(r.id, countFrame, "")
	g.broadcast(r.id, frame{protocol.TypeParticipantJoined, protocol.ParticipantMsg{RoomID: r.id, User: c.Identity()}}, c.ConnID())
	g.log.WithFields(logrus.Fields{"room_id": r.id, "conn_id": c.ConnID(), "count": count}).Debug("joined")
	return nil
}

// doLeave is the single removal path for leave and disconnect. Presence
// reports whether it removed anything, so announcements happen once.
func (g *Gateway) doLeave(r *room, connID string) {
	m, count, removed := g.presence.Leave(r.id, connID)
	if !removed {
		return
	}
	g.broadcast(r.id, frame{protocol.TypePresenceCount, protocol.PresenceCountMsg{RoomID: r.id, Count: count}}, "")
	g.broadcast(r.id, frame{protocol.TypeParticipantLeft, protocol.ParticipantMsg{RoomID: r.id, User: m.User}}, "")
	g.log.WithFields(logrus.Fields{"room_id": r.id, "conn_id": connID, "count": count}).Debug("left")
}

func (g *Gateway) doSend(r *room, cmd command) error {
	if !g.presence.IsMember(r.id, cmd.client.ConnID()) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return apperr.New(apperr.ErrForbidden, "join room %s before sending", r.id)
	}

	// created_at never goes backwards within a room, even if the clock does.
	now := time.Now().UTC()
	if now.Before(r.lastTS) {
		now = r.lastTS
	}
	d := cmd.draft
	d.CreatedAt = now

	m, err := g.messages.Post(cmd.ctx, cmd.client.Identity(), d)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	r.lastTS = m.CreatedAt
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	g.broadcast(r.id, frame{protocol.TypeMessage, protocol.MessageMsg{RoomID: r.id, Message: m}}, "")
	return nil
}

func (g *Gateway) doPin(r *room, cmd command) error {
	if !g.presence.IsMember(r.id, cmd.client.ConnID()) {
		return apperr.New(apperr.ErrForbidden, "join room %s before pinning", r.id)
	}
	m, err := g.messages.SetPinned(cmd.ctx, cmd.client.Identity(), cmd.messageID, cmd.pinned, g.cfg.PinRequiresOwner)
	if err != nil {
		return err
	}
	g.broadcast(r.id, frame{protocol.TypeMessagePinned, protocol.MessageMsg{RoomID: r.id, Message: m}}, "")
	return nil
}

func (g *Gateway) doEdit(r *room, cmd command) error {
	m, err := g.messages.Edit(cmd.ctx, cmd.client.Identity(), cmd.messageID, cmd.body)
	if err != nil {
		return err
	}
	g.broadcast(r.id, frame{protocol.TypeMessageUpdated, protocol.MessageMsg{RoomID: r.id, Message: m}}, "")
	return nil
}

func (g *Gateway) doDelete(r *room, cmd command) error {
	m, err := g.messages.Delete(cmd.ctx, cmd.client.Identity(), cmd.messageID)
	if err != nil {
		return err
	}
	g.broadcast(r.id, frame{protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{RoomID: r.id, MessageID: m.ID}}, "")
	return nil
}

func (g *Gateway) doEvent(r *room, ev moderation.Event) error {
	switch ev.Kind {
	case moderation.EventMessageUpdated:
		g.broadcast(r.id, frame{protocol.TypeMessageUpdated, protocol.MessageMsg{RoomID: r.id, Message: ev.Message}}, "")
	case moderation.EventMessageHidden:
		g.broadcast(r.id, frame{protocol.TypeMessageHidden, protocol.MessageMsg{RoomID: r.id, Message: ev.Message}}, "")
	case moderation.EventMessageDeleted:
		g.broadcast(r.id, frame{protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{RoomID: r.id, MessageID: ev.MessageID}}, "")
	case moderation.EventRoomCleared:
		g.broadcast(r.id, frame{protocol.TypeRoomCleared, protocol.RoomClearedMsg{RoomID: r.id}}, "")
	default:
		return apperr.New(apperr.ErrInvalid, "unknown room event %q", ev.Kind)
	}
	return nil
}

// Notify feeds an administrator event into the room's dispatcher. Rooms
// without connected participants are skipped.
func (g *Gateway) Notify(ctx context.Context, ev moderation.Event) error {
	if ev.RoomID == "" {
		return apperr.New(apperr.ErrInvalid, "room event without room id")
	}
	if g.presence.Count(ev.RoomID) == 0 {
		return nil
	}
	return g.submit(ctx, ev.RoomID, command{kind: cmdEvent, event: ev})
}
