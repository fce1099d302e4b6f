package ws

import (
	"errors"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/protocol"
)

// Dispatcher error codes for failures detected before a handler runs.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
)

// MessageHandler is the callback signature for handling a parsed, validated
// client message. The msg parameter is one of the protocol request variants
// (e.g., protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg protocol.ClientMessage)

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping internally and sends structured
// error responses for malformed, invalid or unsupported messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log.Named("dispatch"),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It decodes the raw bytes
// into a request variant, validates it, answers ping, and routes all other
// types to the registered handler. A panicking handler is recovered so the
// connection's processing loop keeps running.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			d.log.Debug("unsupported message type", zap.String("conn_id", conn.ID), zap.String("type", unknown.Type))
			d.SendError(conn, CodeUnsupportedType, "unsupported message type")
			return
		}
		d.log.Debug("parse error", zap.String("conn_id", conn.ID), zap.Error(err))
		d.SendError(conn, CodeParseError, "invalid message format")
		return
	}

	if err := msg.Validate(); err != nil {
		d.log.Debug("invalid message", zap.String("conn_id", conn.ID), zap.String("type", msg.MessageType()), zap.Error(err))
		d.SendError(conn, chat.CodeInvalidInput, chat.PublicMessage(chat.CodeInvalidInput))
		return
	}

	if msg.MessageType() == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msg.MessageType()]
	if !ok {
		d.SendError(conn, CodeUnsupportedType, "unsupported message type")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic",
				zap.String("conn_id", conn.ID),
				zap.String("type", msg.MessageType()),
				zap.Any("panic", r))
			d.SendError(conn, chat.CodeInternal, chat.PublicMessage(chat.CodeInternal))
		}
	}()
	handler(conn, msg)
}

// SendError sends a structured error message back to the client. Errors during
// message construction or transmission are logged but not propagated.
func (d *MessageDispatcher) SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error("build error message", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("send error message", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

// sendPong responds to a client ping with a pong message.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error("build pong", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("send pong", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}
