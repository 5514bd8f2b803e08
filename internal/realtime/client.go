package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client is one websocket connection owned by an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	groups map[string]struct{}

	once   sync.Once
	closed chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, h.cfg.SendBuffer),
		groups: make(map[string]struct{}),
		closed: make(chan struct{}),
	}
}

// enqueue reports false when the client's buffer is full or it has closed.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		c.handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.hub.cfg.WriteTimeout))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(data []byte) {
	if !gjson.ValidBytes(data) {
		c.reply(EventError, "", ErrorPayload{Code: "BAD_FRAME", Message: "frame must be JSON"})
		return
	}
	parsed := gjson.ParseBytes(data)
	conversationID := parsed.Get("conversationId").String()

	switch parsed.Get("type").String() {
	case inboundJoin:
		c.joinConversation(conversationID)
	case inboundLeave:
		if conversationID != "" {
			c.hub.leave(c, conversationID)
		}
	case inboundTyping:
		if conversationID == "" || !c.hub.inGroup(c, conversationID) {
			c.reply(EventError, conversationID, ErrorPayload{Code: "NOT_SUBSCRIBED", Message: "join the conversation first"})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.WriteTimeout)
		defer cancel()
		c.hub.broadcast(ctx, Event{
			Type:           EventUserTyping,
			ConversationID: conversationID,
			ExcludeUserID:  c.userID,
			Payload:        TypingPayload{UserID: c.userID, IsTyping: parsed.Get("isTyping").Bool()},
		})
	case inboundPing:
		c.reply(EventPong, "", nil)
	default:
		c.reply(EventError, "", ErrorPayload{Code: "UNKNOWN_TYPE", Message: "unsupported message type"})
	}
}

func (c *Client) joinConversation(conversationID string) {
	if conversationID == "" {
		c.reply(EventError, "", ErrorPayload{Code: "VALIDATION_ERROR", Message: "conversationId is required"})
		return
	}
	if authorizer := c.hub.currentAuthorizer(); authorizer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.WriteTimeout)
		err := authorizer.CanSubscribe(ctx, conversationID, c.userID)
		cancel()
		if err != nil {
			c.reply(EventError, conversationID, ErrorPayload{Code: "FORBIDDEN", Message: "cannot subscribe to conversation"})
			return
		}
	}
	c.hub.join(c, conversationID)
}

func (c *Client) reply(eventType EventType, conversationID string, payload interface{}) {
	data, err := encodeFrame(Event{Type: eventType, ConversationID: conversationID, Payload: payload})
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.close()
	}
}
