// ABOUTME: WebSocket broadcast hub fanning engine updates out to observers
// ABOUTME: Each client gets a buffered send queue and a single writer goroutine

package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Envelope message types. Observers switch on Type to route Data.
const (
	TypeInitial           = "initial"
	TypeEvent             = "event"
	TypeAgentStates       = "agent_states"
	TypeThemeActivated    = "theme_activated"
	TypeCharactersUpdated = "characters_updated"
	TypePong              = "pong"
)

const (
	writeWait      = 10 * time.Second
	sendQueueDepth = 64
)

var (
	connectedObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentdeck",
		Subsystem: "hub",
		Name:      "connected_observers",
		Help:      "Currently connected WebSocket observers.",
	})
	broadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "hub",
		Name:      "broadcasts_total",
		Help:      "Messages broadcast to observers, counted once per fan-out.",
	})
	droppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "hub",
		Name:      "dropped_clients_total",
		Help:      "Observers disconnected because their send queue filled.",
	})
)

// Envelope is the wire frame every hub message travels in.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected observers and fans serialized messages out to them.
// Messages are marshaled once per broadcast, not once per client.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates an empty hub. The upgrader accepts any origin: the engine
// binds to localhost and observers are local dashboards.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "hub"),
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the connection until the observer
// goes away. The snapshot frames are queued before the client joins the
// broadcast set, so no update can slip in ahead of them.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, snapshot []Envelope) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
	}

	for _, env := range snapshot {
		payload, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("failed to marshal snapshot frame", "type", env.Type, "error", err)
			continue
		}
		c.send <- payload
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	connectedObservers.Inc()
	h.logger.Debug("observer connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast serializes one envelope and queues it for every connected
// observer. A client whose queue is full is dropped rather than allowed to
// stall the rest.
func (h *Hub) Broadcast(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "type", env.Type, "error", err)
		return
	}
	broadcastsSent.Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, id)
			close(c.send)
			connectedObservers.Dec()
			droppedClients.Inc()
			h.logger.Warn("dropping slow observer", "client_id", id)
		}
	}
}

// BroadcastEvent announces a newly ingested hook event.
func (h *Hub) BroadcastEvent(event any) {
	h.Broadcast(Envelope{Type: TypeEvent, Data: event})
}

// BroadcastAgentStates pushes the full agent state map.
func (h *Hub) BroadcastAgentStates(states any) {
	h.Broadcast(Envelope{Type: TypeAgentStates, Data: states})
}

// BroadcastThemeActivated announces a theme switch.
func (h *Hub) BroadcastThemeActivated(theme any) {
	h.Broadcast(Envelope{Type: TypeThemeActivated, Data: theme})
}

// BroadcastCharactersUpdated announces changes to the character roster.
func (h *Hub) BroadcastCharactersUpdated(characters any) {
	h.Broadcast(Envelope{Type: TypeCharactersUpdated, Data: characters})
}

// Close disconnects every observer. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		connectedObservers.Dec()
	}
}

// writePump is the only goroutine that writes to the connection. It drains
// the send queue until the queue closes or a write fails.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("observer write failed", "client_id", c.id, "error", err)
			h.unregister(c.id)
			return
		}
	}
}

// readPump consumes observer frames. The only application frame observers
// send is a ping, answered with a pong; anything unreadable ends the
// connection.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c.id)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			pong, _ := json.Marshal(Envelope{Type: TypePong})
			h.trySend(c.id, pong)
		}
	}
}

// trySend queues a payload for one client if it is still registered. The
// membership check and the channel close both happen under mu, so this can
// never write to a closed queue.
func (h *Hub) trySend(id string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// unregister removes a client from the broadcast set, tolerating repeat
// calls for the same id.
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
		connectedObservers.Dec()
	}
}
