package gateway

import (
	"errors"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/protocol"
	"github.com/moviemark/studio-chat/internal/report"
)

// frame is a server message waiting to be encoded.
type frame struct {
	typ     string
	payload interface{}
}

func (f frame) encode() ([]byte, error) {
	return protocol.NewServerMessage(f.typ, f.payload)
}

func typeReportAccepted(r *report.Report) frame {
	return frame{protocol.TypeReportAccepted, protocol.ReportAcceptedMsg{
		ReportID:  r.ID,
		MessageID: r.MessageID,
		Status:    string(r.Status),
	}}
}

func typingFrame(roomID string, user auth.Identity, typing bool) ([]byte, error) {
	typ := protocol.TypeTyping
	if !typing {
		typ = protocol.TypeStopTyping
	}
	return frame{typ, protocol.ParticipantMsg{RoomID: roomID, User: user}}.encode()
}

func (g *Gateway) sendTo(c Client, f frame) error {
	data, err := f.encode()
	if err != nil {
		return apperr.Internal(err)
	}
	return c.WriteMessage(data)
}

// broadcast encodes f once and writes it to every member of roomID except
// the connection named by except. A failed write is logged; the heartbeat
// removes dead connections.
func (g *Gateway) broadcast(roomID string, f frame, except string) {
	data, err := f.encode()
	if err != nil {
		g.log.WithError(err).WithField("type", f.typ).Error("failed to encode frame")
		return
	}
	g.fanout(roomID, data, except)
}

func (g *Gateway) fanout(roomID string, data []byte, except string) {
	for _, m := range g.presence.Members(roomID) {
		if m.ConnID == except {
			continue
		}
		if err := m.Conn.WriteMessage(data); err != nil {
			g.log.WithError(err).WithField("conn_id", m.ConnID).Debug("write failed")
		}
	}
}

// replyError answers a failed command to its originator only. Rate limiting
// gets its own frame so clients can back off.
func (g *Gateway) replyError(c Client, request string, err error) {
	var f frame
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		f = frame{protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: max(int(rl.RetryAfter.Seconds()+0.999), 1)}}
	} else {
		f = frame{protocol.TypeError, protocol.ErrorMsg{
			Code:    apperr.Code(err),
			Message: apperr.Message(err),
			Request: request,
		}}
	}
	if err := g.sendTo(c, f); err != nil {
		g.log.WithError(err).WithField("conn_id", c.ConnID()).Debug("error frame not delivered")
	}
}
