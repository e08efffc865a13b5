package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"estatehub/chat"
	"estatehub/metrics"
	"estatehub/middleware"
	"estatehub/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// eventHandler serves one request event. A non-empty reply type sends the
// result back to the requesting session only.
type eventHandler func(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error)

// WebSocketHandler upgrades connections and dispatches realtime events
type WebSocketHandler struct {
	hub      *Hub
	engine   *chat.Engine
	logger   *zap.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader
	handlers map[models.EventType]eventHandler
}

// NewWebSocketHandler creates the realtime endpoint. Each event gets its own
// timeout for storage work.
func NewWebSocketHandler(hub *Hub, engine *chat.Engine, allowedOrigins []string, timeout time.Duration, logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:     hub,
		engine:  engine,
		logger:  logger,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	h.handlers = map[models.EventType]eventHandler{
		models.EventSendMessage:         h.sendMessage,
		models.EventSendGroupMessage:    h.sendGroupMessage,
		models.EventMarkMessagesAsSeen:  h.markSeen,
		models.EventGetUnseenCount:      h.unseenCount,
		models.EventGetPreviousChat:     h.previousChat,
		models.EventGetChatPartners:     h.chatPartners,
		models.EventGetAllGroups:        h.allGroups,
		models.EventGetAllGroupMessages: h.allGroupMessages,
		models.EventGetGroupMessages:    h.groupMessages,
		models.EventDeleteChat:          h.deleteChat,
		models.EventTyping:              h.typing,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP handles WebSocket connections
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r)
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(userID, conn)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *WebSocketHandler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("session_id", c.ID), zap.Error(err))
			}
			break
		}

		var wsMsg models.WebSocketMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			h.hub.SendToClient(c, models.OutboundMessage{
				Type:    "error",
				Payload: models.EventError{Code: models.ErrorCode(models.ErrInvalidArgument), Message: "malformed frame"},
			})
			continue
		}
		h.dispatch(c, wsMsg)
	}
}

// dispatch runs one event to completion. A failure is reported to the
// requesting session only.
func (h *WebSocketHandler) dispatch(c *Client, msg models.WebSocketMessage) {
	handler, ok := h.handlers[msg.Type]
	if !ok {
		metrics.RealtimeEvents.WithLabelValues("unknown", "rejected").Inc()
		h.hub.SendToClient(c, models.OutboundMessage{
			Type:    msg.Type.ErrorEvent(),
			Payload: models.EventError{Code: models.ErrorCode(models.ErrInvalidArgument), Message: "unknown event"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	reply, result, err := handler(ctx, c, msg.Payload)
	if err != nil {
		code := models.ErrorCode(err)
		metrics.RealtimeEvents.WithLabelValues(string(msg.Type), code).Inc()
		text := err.Error()
		if code == "internal" {
			h.logger.Error("realtime event failed",
				zap.String("event", string(msg.Type)),
				zap.String("user_id", c.UserID),
				zap.Error(err),
			)
			text = "internal error"
		}
		h.hub.SendToClient(c, models.OutboundMessage{
			Type:    msg.Type.ErrorEvent(),
			Payload: models.EventError{Code: code, Message: text},
		})
		return
	}

	metrics.RealtimeEvents.WithLabelValues(string(msg.Type), "ok").Inc()
	if reply != "" {
		h.hub.SendToClient(c, models.OutboundMessage{Type: reply, Payload: result})
	}
}

func (h *WebSocketHandler) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed payload: %w", errors.Join(models.ErrInvalidArgument, err))
	}
	return nil
}

func (h *WebSocketHandler) sendMessage(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.SendMessagePayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	_, err := h.engine.SendDirectMessage(ctx, c.UserID, req)
	return "", nil, err
}

func (h *WebSocketHandler) sendGroupMessage(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.SendGroupMessagePayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	_, err := h.engine.SendGroupMessage(ctx, c.UserID, req)
	return "", nil, err
}

func (h *WebSocketHandler) markSeen(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.MarkSeenPayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	n, err := h.engine.MarkSeen(ctx, c.UserID, req)
	if err != nil {
		return "", nil, err
	}
	return models.EventMessagesMarkedSeen, map[string]int64{"count": n}, nil
}

func (h *WebSocketHandler) unseenCount(ctx context.Context, c *Client, _ json.RawMessage) (models.EventType, interface{}, error) {
	counts, err := h.engine.UnseenCount(ctx, c.UserID)
	return models.EventUnseenCount, counts, err
}

func (h *WebSocketHandler) previousChat(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.PreviousChatPayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	msgs, err := h.engine.PreviousChat(ctx, c.UserID, req)
	return models.EventPreviousChat, msgs, err
}

func (h *WebSocketHandler) chatPartners(ctx context.Context, c *Client, _ json.RawMessage) (models.EventType, interface{}, error) {
	partners, err := h.engine.ChatPartners(ctx, c.UserID)
	return models.EventChatPartners, partners, err
}

func (h *WebSocketHandler) allGroups(ctx context.Context, c *Client, _ json.RawMessage) (models.EventType, interface{}, error) {
	groups, err := h.engine.ListGroupsForAdmin(ctx, c.UserID)
	return models.EventAllGroups, groups, err
}

func (h *WebSocketHandler) allGroupMessages(ctx context.Context, c *Client, _ json.RawMessage) (models.EventType, interface{}, error) {
	msgs, err := h.engine.AllGroupMessages(ctx, c.UserID)
	return models.EventAllGroupMessages, msgs, err
}

func (h *WebSocketHandler) groupMessages(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.GroupPayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	msgs, err := h.engine.GroupMessages(ctx, c.UserID, req.GroupID)
	return models.EventGroupMessages, msgs, err
}

func (h *WebSocketHandler) deleteChat(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.DeleteChatPayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	n, err := h.engine.DeleteChat(ctx, c.UserID, req)
	if err != nil {
		return "", nil, err
	}
	return models.EventChatDeleted, map[string]int64{"count": n}, nil
}

func (h *WebSocketHandler) typing(ctx context.Context, c *Client, payload json.RawMessage) (models.EventType, interface{}, error) {
	var req models.TypingPayload
	if err := decode(payload, &req); err != nil {
		return "", nil, err
	}
	return "", nil, h.engine.Typing(ctx, c.UserID, req)
}
