package gateway

import (
	"context"

	"github.com/moviemark/studio-chat/internal/protocol"
	"github.com/moviemark/studio-chat/internal/ws"
)

// Register installs the channel commands on a ws dispatcher.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoin, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.JoinMsg)
		g.handle(c, protocol.TypeJoin, func(ctx context.Context) error {
			return g.Join(ctx, c, m.RoomID)
		})
	})
	d.Register(protocol.TypeLeave, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.LeaveMsg)
		g.handle(c, protocol.TypeLeave, func(ctx context.Context) error {
			return g.Leave(ctx, c, m.RoomID)
		})
	})
	d.Register(protocol.TypeSend, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.SendMsg)
		g.handle(c, protocol.TypeSend, func(ctx context.Context) error {
			return g.Send(ctx, c, m.RoomID, m.Body, m.Kind, m.Attachment)
		})
	})
	d.Register(protocol.TypeTyping, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.TypingMsg)
		if err := g.Typing(c, m.RoomID, true); err != nil {
			g.replyError(c, protocol.TypeTyping, err)
		}
	})
	d.Register(protocol.TypeStopTyping, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.TypingMsg)
		if err := g.Typing(c, m.RoomID, false); err != nil {
			g.replyError(c, protocol.TypeStopTyping, err)
		}
	})
	d.Register(protocol.TypeTogglePin, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.TogglePinMsg)
		g.handle(c, protocol.TypeTogglePin, func(ctx context.Context) error {
			return g.TogglePin(ctx, c, m.MessageID, m.Pinned)
		})
	})
	d.Register(protocol.TypeEdit, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.EditMsg)
		g.handle(c, protocol.TypeEdit, func(ctx context.Context) error {
			return g.Edit(ctx, c, m.MessageID, m.Body)
		})
	})
	d.Register(protocol.TypeDelete, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.DeleteMsg)
		g.handle(c, protocol.TypeDelete, func(ctx context.Context) error {
			return g.Delete(ctx, c, m.MessageID)
		})
	})
	d.Register(protocol.TypeReport, func(c *ws.Connection, msg interface{}) {
		m := msg.(protocol.ReportMsg)
		g.handle(c, protocol.TypeReport, func(ctx context.Context) error {
			return g.Report(ctx, c, m.MessageID, m.Reason, m.Description)
		})
	})
}

// OnDisconnect is the ws server's disconnect callback.
func (g *Gateway) OnDisconnect(c *ws.Connection) {
	g.Disconnect(c)
}

// handle runs fn under the per-command deadline and reports a failure to the
// connection that sent the command.
func (g *Gateway) handle(c Client, request string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PersistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		g.replyError(c, request, err)
	}
}
