package handlers

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estatehub/metrics"
	"estatehub/models"
)

const (
	fanoutChannel  = "estatehub:realtime"
	presencePrefix = "estatehub:presence:"
	redisTimeout   = 2 * time.Second
)

// Client represents one WebSocket session
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// NewClient creates a session for userID with a fresh ulid
func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     ulid.MustNew(ulid.Now(), rand.Reader).String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
}

// Hub maintains the set of active sessions on this instance. With Redis
// configured, deliveries are also published so other instances can reach
// their own sessions.
type Hub struct {
	clients    map[string]*Client            // session id -> client
	users      map[string]map[string]*Client // user id -> sessions
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex

	rdb        redis.UniversalClient
	presence   presence
	heartbeat  time.Duration
	instanceID string
	logger     *zap.Logger
}

type fanout struct {
	Origin  string          `json:"origin"`
	UserIDs []string        `json:"user_ids"`
	Data    json.RawMessage `json:"data"`
}

// NewHub creates a hub. rdb may be nil for a single instance deployment.
func NewHub(rdb redis.UniversalClient, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		rdb:        rdb,
		heartbeat:  presenceTTL / 3,
		instanceID: ulid.MustNew(ulid.Now(), rand.Reader).String(),
		logger:     logger,
	}
	if rdb != nil {
		h.presence = newRedisPresence(rdb, h.instanceID)
	}
	return h
}

// Run processes registrations until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.listen(ctx)
	}
	var beat <-chan time.Time
	if h.presence != nil {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case <-beat:
			h.refreshPresence(ctx)

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			sessions, ok := h.users[client.UserID]
			if !ok {
				sessions = make(map[string]*Client)
				h.users[client.UserID] = sessions
			}
			sessions[client.ID] = client
			first := len(sessions) == 1
			h.mutex.Unlock()

			metrics.ActiveSessions.Inc()
			h.logger.Info("client connected", zap.String("user_id", client.UserID), zap.String("session_id", client.ID))
			if first {
				h.trackPresence(ctx, client.UserID, true)
				h.broadcastOnlineStatus(client.UserID, true)
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client.ID]
			last := false
			if ok {
				delete(h.clients, client.ID)
				delete(h.users[client.UserID], client.ID)
				if len(h.users[client.UserID]) == 0 {
					delete(h.users, client.UserID)
					last = true
				}
				close(client.Send)
			}
			h.mutex.Unlock()

			if !ok {
				continue
			}
			metrics.ActiveSessions.Dec()
			h.logger.Info("client disconnected", zap.String("user_id", client.UserID), zap.String("session_id", client.ID))
			if last {
				h.trackPresence(ctx, client.UserID, false)
				h.broadcastOnlineStatus(client.UserID, false)
			}
		}
	}
}

// Register adds a session. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a session and closes its send channel
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// IsUserOnline checks if a user has a live session on any instance
func (h *Hub) IsUserOnline(userID string) bool {
	h.mutex.RLock()
	_, ok := h.users[userID]
	h.mutex.RUnlock()
	if ok || h.presence == nil {
		return ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	online, err := h.presence.Online(ctx, userID)
	if err != nil {
		h.logger.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	return online
}

// SendToUsers delivers msg to every session of the given users
func (h *Hub) SendToUsers(userIDs []string, msg models.OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal outbound message", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	h.deliver(userIDs, data)

	if h.rdb == nil {
		return
	}
	payload, err := json.Marshal(fanout{Origin: h.instanceID, UserIDs: userIDs, Data: data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := h.rdb.Publish(ctx, fanoutChannel, payload).Err(); err != nil {
		h.logger.Warn("realtime fan-out publish failed", zap.Error(err))
	}
}

// SendToClient delivers a frame to one session
func (h *Hub) SendToClient(c *Client, msg models.OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal outbound message", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.clients[c.ID]; ok {
		h.enqueue(c, data)
	}
}

func (h *Hub) deliver(userIDs []string, data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, c := range h.users[id] {
			h.enqueue(c, data)
		}
	}
}

// enqueue must run under the read lock. A session whose buffer is full is
// dropped rather than allowed to stall everyone else.
func (h *Hub) enqueue(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.logger.Warn("dropping slow client", zap.String("session_id", c.ID))
		go h.Unregister(c)
	}
}

// broadcastOnlineStatus notifies all other local sessions about a user
// coming online or going offline
func (h *Hub) broadcastOnlineStatus(userID string, online bool) {
	data, _ := json.Marshal(models.OutboundMessage{
		Type:    models.EventOnlineStatus,
		Payload: models.OnlineStatus{UserID: userID, Online: online},
	})

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID {
			continue
		}
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) listen(ctx context.Context) {
	sub := h.rdb.Subscribe(ctx, fanoutChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f fanout
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				h.logger.Warn("bad realtime fan-out payload", zap.Error(err))
				continue
			}
			if f.Origin == h.instanceID {
				continue
			}
			h.deliver(f.UserIDs, f.Data)
		}
	}
}

// trackPresence claims or releases userID for this instance. Only the first
// and last local session of a user change the shared record.
func (h *Hub) trackPresence(ctx context.Context, userID string, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()
	var err error
	if online {
		err = h.presence.Join(ctx, userID)
	} else {
		err = h.presence.Leave(ctx, userID)
	}
	if err != nil {
		h.logger.Warn("presence update failed",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

func (h *Hub) refreshPresence(ctx context.Context) {
	h.mutex.RLock()
	userIDs := make([]string, 0, len(h.users))
	for id := range h.users {
		userIDs = append(userIDs, id)
	}
	h.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := h.presence.Refresh(ctx, userIDs); err != nil {
		h.logger.Warn("presence heartbeat failed", zap.Int("users", len(userIDs)), zap.Error(err))
	}
}

// closeAll drops every local session and releases this instance's presence
// claims so other instances stop treating the users as reachable.
func (h *Hub) closeAll() {
	h.mutex.Lock()
	userIDs := make([]string, 0, len(h.users))
	for id := range h.users {
		userIDs = append(userIDs, id)
	}
	for id, c := range h.clients {
		close(c.Send)
		delete(h.clients, id)
		metrics.ActiveSessions.Dec()
	}
	h.users = make(map[string]map[string]*Client)
	h.mutex.Unlock()

	for _, id := range userIDs {
		h.trackPresence(context.Background(), id, false)
	}
}
