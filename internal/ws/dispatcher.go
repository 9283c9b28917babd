package ws

import (
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/protocol"
)

// MessageHandler handles a parsed client message. msg is the concrete struct
// returned by protocol.ParseClientMessage (protocol.JoinMsg,
// protocol.SendMsg, ...).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to handlers by message type. It
// answers pings itself and replies with an error frame to malformed or
// unsupported messages; the connection stays open either way.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *logrus.Entry
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log *logrus.Entry) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logging.OrDiscard(log),
	}
}

// Register associates a MessageHandler with a message type, replacing any
// previous handler.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.WithError(err).WithField("conn_id", conn.ID).Debug("dispatch parse error")
		d.sendError(conn, msgType, apperr.New(apperr.ErrInvalid, "invalid message format"))
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.WithFields(logrus.Fields{"conn_id": conn.ID, "type": msgType}).Debug("unsupported message type")
		d.sendError(conn, msgType, apperr.New(apperr.ErrInvalid, "unsupported message type %q", msgType))
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, request string, err error) {
	data, buildErr := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
		Request: request,
	})
	if buildErr != nil {
		d.log.WithError(buildErr).Error("failed to build error frame")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.WithError(err).WithField("conn_id", conn.ID).Debug("failed to send error frame")
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.WithError(err).Error("failed to build pong frame")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.WithError(err).WithField("conn_id", conn.ID).Debug("failed to send pong")
	}
}
