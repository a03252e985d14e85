package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans response events out to every open tab watching a response
type Hub struct {
	// responseID -> connections
	conns map[string]map[*Connection]struct{}

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage

	logger *slog.Logger
}

// Connection represents a WebSocket connection
type Connection struct {
	ResponseID string
	UserID     string
	Send       chan []byte
	Hub        *Hub
}

// BroadcastMessage is a message to broadcast
type BroadcastMessage struct {
	ResponseID string
	Message    *Message
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.ResponseID] == nil {
				h.conns[conn.ResponseID] = make(map[*Connection]struct{})
			}
			h.conns[conn.ResponseID][conn] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("ws connected", "response_id", conn.ResponseID, "user_id", conn.UserID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.conns[conn.ResponseID]; ok {
				if _, ok := set[conn]; ok {
					delete(set, conn)
					close(conn.Send)
					if len(set) == 0 {
						delete(h.conns, conn.ResponseID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("ws disconnected", "response_id", conn.ResponseID, "user_id", conn.UserID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg.Message)
			for conn := range h.conns[msg.ResponseID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Connections returns how many tabs watch responseID
func (h *Hub) Connections(responseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[responseID])
}

// BroadcastToResponse sends an event to every connection on the response (implements service.Broadcaster)
func (h *Hub) BroadcastToResponse(responseID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws payload marshal failed", "type", msgType, "error", err)
		return
	}
	h.broadcast <- &BroadcastMessage{
		ResponseID: responseID,
		Message: &Message{
			Type:    MessageType(msgType),
			Payload: data,
		},
	}
}
