package notifications

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/observability/metrics"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// LiveEvent is the frame pushed to websocket clients.
type LiveEvent struct {
	Event        Kind          `json:"event"`
	Topic        string        `json:"topic"`
	Timestamp    time.Time     `json:"timestamp"`
	Notification *Notification `json:"data"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type client struct {
	id     string
	actor  actor.Actor
	topics map[string]struct{}
	send   chan []byte
}

// Hub tracks websocket clients by topic on this instance.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*client]struct{}
	all     map[*client]struct{}
	metrics *metrics.VisitMetrics
	logger  *logging.Logger
}

func NewHub(m *metrics.VisitMetrics, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		topics:  make(map[string]map[*client]struct{}),
		all:     make(map[*client]struct{}),
		metrics: m,
		logger:  logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.all[c] = struct{}{}
	for topic := range c.topics {
		h.addLocked(c, topic)
	}
	n := len(h.all)
	h.mu.Unlock()
	h.metrics.SetLiveClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.all[c]; !ok {
		h.mu.Unlock()
		return
	}
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	delete(h.all, c)
	close(c.send)
	n := len(h.all)
	h.mu.Unlock()
	h.metrics.SetLiveClients(n)
}

func (h *Hub) subscribe(c *client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
		h.addLocked(c, topic)
	}
}

func (h *Hub) unsubscribe(c *client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		delete(c.topics, topic)
		h.removeLocked(c, topic)
	}
}

func (h *Hub) addLocked(c *client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

func (h *Hub) removeLocked(c *client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Broadcast delivers evt to the local subscribers of its topic. Slow clients are skipped.
func (h *Hub) Broadcast(evt LiveEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("live event marshal failed", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[evt.Topic] {
		select {
		case c.send <- data:
		default:
			h.metrics.ObserveNotification("live", "dropped")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// CanSubscribe reports whether a may listen on topic. Doctors only hear their own channel.
func CanSubscribe(a actor.Actor, topic string) bool {
	switch a.Role {
	case actor.RoleAdmin:
		return true
	case actor.RoleDoctor:
		return topic == Doctor(a.ID).Topic()
	}
	return false
}

func defaultTopic(a actor.Actor) string {
	if a.Role == actor.RoleDoctor {
		return Doctor(a.ID).Topic()
	}
	return Admin().Topic()
}

// WSHandler upgrades GET /ws and pumps live events to the client.
type WSHandler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   *logging.Logger
}

// NewWSHandler builds the upgrade handler. A nil checkOrigin accepts every origin.
func NewWSHandler(hub *Hub, checkOrigin func(*http.Request) bool, logger *logging.Logger) *WSHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

func (wsh *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok || a.Role == actor.RolePatient {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{defaultTopic(a)}
	}
	for _, topic := range topics {
		if !CanSubscribe(a, topic) {
			http.Error(w, "forbidden topic "+topic, http.StatusForbidden)
			return
		}
	}

	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsh.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:     uuid.NewString(),
		actor:  a,
		topics: make(map[string]struct{}, len(topics)),
		send:   make(chan []byte, sendBuffer),
	}
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
	wsh.hub.register(c)
	wsh.logger.Debug("websocket connected", "client_id", c.id, "actor", a.String(), "topics", topics)

	go wsh.writePump(c, ws)
	go wsh.readPump(c, ws)
}

func (wsh *WSHandler) readPump(c *client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.unregister(c)
		ws.Close()
	}()
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		allowed := msg.Topics[:0]
		for _, topic := range msg.Topics {
			if CanSubscribe(c.actor, topic) {
				allowed = append(allowed, topic)
			}
		}
		switch msg.Action {
		case "subscribe":
			wsh.hub.subscribe(c, allowed)
		case "unsubscribe":
			wsh.hub.unsubscribe(c, allowed)
		}
	}
}

func (wsh *WSHandler) writePump(c *client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
