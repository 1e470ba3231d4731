package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/types"
)

// ChatEvents is the slice of the chat coordinator the transport needs.
type ChatEvents interface {
	CanAccess(ctx context.Context, chatId, userId string) error
	MarkMessageRead(ctx context.Context, chatId, messageId, userId string) error
}

// SessionEvents is the slice of the code-session coordinator the transport
// needs.
type SessionEvents interface {
	Join(ctx context.Context, sessionId, userId string) error
	Leave(ctx context.Context, sessionId, userId string) error
	UpdateCode(ctx context.Context, sessionId, userId, code string, cursor *int) error
	UpdateCursor(ctx context.Context, sessionId, userId string, cursor int) error
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	user *types.User

	// rooms this connection has joined, manipulated under the hub lock only
	roomSet map[string]struct{}

	chat     ChatEvents
	sessions SessionEvents

	doneChan chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, user *types.User, chat ChatEvents, sessions SessionEvents, doneChan chan struct{}) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		user:     user,
		roomSet:  make(map[string]struct{}),
		chat:     chat,
		sessions: sessions,
		doneChan: doneChan,
	}
}

func (c *Client) User() *types.User { return c.user }

// deliver queues data for the write loop without blocking the hub. A client
// whose buffer is full misses the event; broadcasts are fire-and-forget and
// clients re-fetch state on reconnect. Caller must hold the hub lock.
func (c *Client) deliver(data []byte) {
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("dropping event for slow client", "user", c.user.Id)
	}
}

// send marshals and queues an event for this connection only. Safe to call
// from the read loop: membership is re-checked under the hub lock so a send
// cannot race the channel close in unregister.
func (c *Client) send(event string, payload interface{}) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	c.hub.RLock()
	if _, ok := c.hub.clients[c]; ok {
		c.deliver(data)
	}
	c.hub.RUnlock()
}

// sendError acknowledges a failed action to the caller. Other room members
// never see anything for a failed action.
func (c *Client) sendError(event string, err error) {
	globals.AppLogger.Debug("client action failed", "user", c.user.Id, "event", event, "error", err)
	c.send(types.EventError, types.ErrorPayload{Event: event, Message: errs.Message(err)})
}

// ReadLoop pumps messages from the websocket connection to the coordinators.
//
// The application runs ReadLoop in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.hub.Unregister(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Debug("ws closed unexpectedly", "user", c.user.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Debug("could not unmarshal ws message", "error", err)
			c.sendError("", errs.Validation("malformed message"))
			continue
		}
		c.dispatch(&message)
	}
}

// dispatch validates the loosely-typed payload and routes the event. Clients
// are untrusted; nothing reaches a coordinator before it decodes into the
// expected shape.
func (c *Client) dispatch(message *types.WebsocketMessage) {
	ctx := context.Background()
	userId := c.user.Id
	switch message.Event {
	case types.EventJoinChat:
		ref := types.ChatRef{}
		if err := decodePayload(message.Data, &ref); err != nil || ref.ChatId == "" {
			c.sendError(message.Event, errs.Validation("chatId is required"))
			return
		}
		if err := c.chat.CanAccess(ctx, ref.ChatId, userId); err != nil {
			c.sendError(message.Event, err)
			return
		}
		c.hub.JoinRoom(c, types.ChatRoom(ref.ChatId))

	case types.EventLeaveChat:
		ref := types.ChatRef{}
		if err := decodePayload(message.Data, &ref); err != nil || ref.ChatId == "" {
			c.sendError(message.Event, errs.Validation("chatId is required"))
			return
		}
		c.hub.LeaveRoom(c, types.ChatRoom(ref.ChatId))

	case types.EventTypingStart, types.EventTypingStop:
		ref := types.ChatRef{}
		if err := decodePayload(message.Data, &ref); err != nil || ref.ChatId == "" {
			c.sendError(message.Event, errs.Validation("chatId is required"))
			return
		}
		// relayed verbatim, the sender is responsible for sending stop
		c.hub.BroadcastToRoom(types.ChatRoom(ref.ChatId), types.EventUserTyping, types.TypingPayload{
			ChatId:   ref.ChatId,
			UserId:   userId,
			IsTyping: message.Event == types.EventTypingStart,
		}, userId)

	case types.EventMarkAsRead:
		payload := types.MarkAsReadPayload{}
		if err := decodePayload(message.Data, &payload); err != nil || payload.ChatId == "" || payload.MessageId == "" {
			c.sendError(message.Event, errs.Validation("chatId and messageId are required"))
			return
		}
		if err := c.chat.MarkMessageRead(ctx, payload.ChatId, payload.MessageId, userId); err != nil {
			c.sendError(message.Event, err)
			return
		}

	case types.EventJoinSession:
		ref := types.SessionRef{}
		if err := decodePayload(message.Data, &ref); err != nil || ref.SessionId == "" {
			c.sendError(message.Event, errs.Validation("sessionId is required"))
			return
		}
		// join the room first so the participant broadcast reaches the
		// joiner as well; rolled back if the coordinator rejects
		c.hub.JoinRoom(c, types.SessionRoom(ref.SessionId))
		if err := c.sessions.Join(ctx, ref.SessionId, userId); err != nil {
			c.hub.LeaveRoom(c, types.SessionRoom(ref.SessionId))
			c.sendError(message.Event, err)
			return
		}

	case types.EventLeaveSession:
		ref := types.SessionRef{}
		if err := decodePayload(message.Data, &ref); err != nil || ref.SessionId == "" {
			c.sendError(message.Event, errs.Validation("sessionId is required"))
			return
		}
		if err := c.sessions.Leave(ctx, ref.SessionId, userId); err != nil {
			c.sendError(message.Event, err)
			return
		}
		c.hub.LeaveRoom(c, types.SessionRoom(ref.SessionId))

	case types.EventCodeChange:
		payload := types.CodeChangePayload{}
		if err := decodePayload(message.Data, &payload); err != nil || payload.SessionId == "" {
			c.sendError(message.Event, errs.Validation("sessionId is required"))
			return
		}
		if err := c.sessions.UpdateCode(ctx, payload.SessionId, userId, payload.Code, payload.CursorPosition); err != nil {
			c.sendError(message.Event, err)
			return
		}

	case types.EventCursorMove:
		payload := types.CursorMovePayload{}
		if err := decodePayload(message.Data, &payload); err != nil || payload.SessionId == "" {
			c.sendError(message.Event, errs.Validation("sessionId is required"))
			return
		}
		if err := c.sessions.UpdateCursor(ctx, payload.SessionId, userId, payload.CursorPosition); err != nil {
			c.sendError(message.Event, err)
			return
		}

	case types.EventUserTypingSession:
		payload := types.SessionTypingPayload{}
		if err := decodePayload(message.Data, &payload); err != nil || payload.SessionId == "" {
			c.sendError(message.Event, errs.Validation("sessionId is required"))
			return
		}
		c.hub.BroadcastToRoom(types.SessionRoom(payload.SessionId), types.EventSessionTyping, map[string]interface{}{
			"sessionId": payload.SessionId,
			"userId":    userId,
			"isTyping":  payload.IsTyping,
		}, userId)

	default:
		c.sendError(message.Event, errs.Validation("unknown event %q", message.Event))
	}
}

// decodePayload decodes a raw client payload into the expected shape via an
// intermediate map, tolerating loosely typed values.
func decodePayload(raw json.RawMessage, out interface{}) error {
	payloadMap := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payloadMap); err != nil {
			return err
		}
	}
	return mapstructure.WeakDecode(payloadMap, out)
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
