package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/pkg/middleware/cors"
)

// Config tunes connection handling.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string
}

// Authorizer decides whether a user may subscribe to a conversation group.
type Authorizer interface {
	CanSubscribe(ctx context.Context, conversationID, userID string) error
}

// Publisher hands events to the delivery layer.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Metrics receives connection and delivery counters.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventDelivered(eventType string)
}

// Hub tracks live connections by user and by conversation group.
type Hub struct {
	cfg        Config
	authorizer Authorizer
	metrics    Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	origins    cors.Policy

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	users     map[string]map[*Client]struct{}
	groups    map[string]map[*Client]struct{}
	publisher Publisher
}

// NewHub constructs a hub. Typing signals are delivered locally until a
// publisher is attached with SetPublisher.
func NewHub(cfg Config, authorizer Authorizer, metrics Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8 * 1024
	}
	h := &Hub{
		cfg:        cfg,
		authorizer: authorizer,
		metrics:    metrics,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		users:      make(map[string]map[*Client]struct{}),
		groups:     make(map[string]map[*Client]struct{}),
	}
	h.origins = cors.NewPolicy(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetAuthorizer replaces the subscription check.
func (h *Hub) SetAuthorizer(a Authorizer) {
	h.mu.Lock()
	h.authorizer = a
	h.mu.Unlock()
}

func (h *Hub) currentAuthorizer() Authorizer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authorizer
}

// SetPublisher routes client-originated events through p.
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.origins.Allows(origin)
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := newClient(h, conn, userID)
	h.register(client)
	go client.writePump()
	client.readPump()
	return nil
}

// Run blocks until ctx is done and then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
	return nil
}

// Deliver writes ev to every matching local connection.
func (h *Hub) Deliver(ev Event) {
	payload, err := encodeFrame(ev)
	if err != nil {
		h.logger.Warn("encode realtime event failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	if ev.ConversationID != "" && len(ev.RestrictTo) > 0 {
		h.RestrictGroup(ev.ConversationID, ev.RestrictTo)
	}

	targets := make(map[*Client]struct{})
	h.mu.RLock()
	if ev.ConversationID != "" {
		for c := range h.groups[ev.ConversationID] {
			targets[c] = struct{}{}
		}
	}
	for _, userID := range ev.Recipients {
		for c := range h.users[userID] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if ev.ExcludeUserID != "" && c.userID == ev.ExcludeUserID {
			continue
		}
		if c.enqueue(payload) {
			if h.metrics != nil {
				h.metrics.EventDelivered(string(ev.Type))
			}
			continue
		}
		h.logger.Debug("dropping slow realtime client", zap.String("user_id", c.userID))
		c.close()
	}

	if ev.ConversationID == "" {
		return
	}
	if ev.CloseGroup {
		h.CloseGroup(ev.ConversationID)
		return
	}
	for _, userID := range ev.Unsubscribe {
		h.DropUser(ev.ConversationID, userID)
	}
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns the number of connections subscribed to a conversation.
func (h *Hub) GroupSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[conversationID])
}

// DropUser unsubscribes every connection of userID from a conversation,
// used when membership ends.
func (h *Hub) DropUser(conversationID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.leaveLocked(c, conversationID)
	}
}

// RestrictGroup unsubscribes every connection whose user is not in userIDs,
// used when a conversation becomes private.
func (h *Hub) RestrictGroup(conversationID string, userIDs []string) {
	allowed := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[conversationID] {
		if _, ok := allowed[c.userID]; !ok {
			h.leaveLocked(c, conversationID)
		}
	}
}

// CloseGroup unsubscribes every connection from a dissolved conversation.
func (h *Hub) CloseGroup(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[conversationID] {
		delete(c.groups, conversationID)
	}
	delete(h.groups, conversationID)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	h.logger.Debug("realtime client connected", zap.String("user_id", c.userID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if set := h.users[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	for conversationID := range c.groups {
		h.leaveLocked(c, conversationID)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ConnectionClosed()
	}
	h.logger.Debug("realtime client disconnected", zap.String("user_id", c.userID))
}

func (h *Hub) join(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.groups[conversationID] == nil {
		h.groups[conversationID] = make(map[*Client]struct{})
	}
	h.groups[conversationID][c] = struct{}{}
	c.groups[conversationID] = struct{}{}
}

func (h *Hub) leave(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, conversationID)
}

func (h *Hub) leaveLocked(c *Client, conversationID string) {
	delete(c.groups, conversationID)
	if set := h.groups[conversationID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.groups, conversationID)
		}
	}
}

func (h *Hub) inGroup(c *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.groups[conversationID]
	return ok
}

func (h *Hub) broadcast(ctx context.Context, ev Event) {
	h.mu.RLock()
	p := h.publisher
	h.mu.RUnlock()
	if p == nil {
		h.Deliver(ev)
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		h.logger.Warn("publish realtime event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
