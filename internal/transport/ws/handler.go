package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"healthsurvey/internal/service"
	"healthsurvey/internal/transport/rest/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	authSvc  *service.AuthService
	draftSvc *service.DraftService
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, authSvc *service.AuthService, draftSvc *service.DraftService) *Handler {
	return &Handler{
		hub:      hub,
		authSvc:  authSvc,
		draftSvc: draftSvc,
	}
}

// ResponseWS handles GET /v1/ws/responses/{id}
func (h *Handler) ResponseWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateUserToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	caller := service.Caller{UserID: claims.UserID, IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
	if _, err := h.draftSvc.GetResponse(r.Context(), caller, id); err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "response not found", http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, "response belongs to another user", http.StatusForbidden)
		default:
			http.Error(w, "unable to open event stream", http.StatusServiceUnavailable)
		}
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &Connection{
		ResponseID: id,
		UserID:     claims.UserID,
		Send:       make(chan []byte, 256),
		Hub:        h.hub,
	}

	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Warn("websocket read error", "response_id", conn.ResponseID, "error", err)
			}
			break
		}
		// Clients only listen; inbound frames are ignored
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
