package fanout

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/pkg/logger"
)

// Server exposes the fan-out service's HTTP surface: a /ws upgrade
// endpoint for subscribers, a /broadcast endpoint the engine's producer
// posts committed changes to, and a /health liveness probe (spec §4.7
// "a separate WebSocket fan-out service").
type Server struct {
	hub      *Hub
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server routing events through hub.
func NewServer(hub *Hub, log *logger.Logger) *Server {
	return &Server{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the mux.Router serving this server's endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// wsMessage is the inbound shape for every client message (spec §4.7): the
// action names the request and exactly one of the three fields narrows it.
type wsMessage struct {
	Action  string `json:"action"`
	ClassID string `json:"class_id"`
	ID      string `json:"id"`
	ScopeID string `json:"scope_id"`
}

func subscriptionFromMessage(msg wsMessage) Subscription {
	return Subscription{ClassID: msg.ClassID, ObjectKey: msg.ID, ScopeID: msg.ScopeID}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("error", err).Warn("fanout: websocket upgrade failed")
		return
	}

	// user_id is extracted from a token in a fuller deployment; this service
	// accepts it as a query parameter, leaving token verification to the
	// auth layer in front of it (spec §4.9 external collaborator).
	userID := r.URL.Query().Get("user_id")
	c := &client{conn: conn, userID: userID, send: make(chan []byte, 64)}
	s.hub.register(c)

	go s.writePump(c)
	s.sendJSON(c, map[string]any{"event": "connected", "user_id": userID})
	s.readPump(c)
}

// readPump processes subscribe/unsubscribe/ping actions for the life of the
// connection, acknowledging each (spec §4.7 inbound protocol).
func (s *Server) readPump(c *client) {
	defer s.hub.unregister(c)
	defer c.conn.Close()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.sendJSON(c, map[string]any{"event": "error", "message": "malformed message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			sub := subscriptionFromMessage(msg)
			s.hub.addSubscription(c, sub)
			ack := map[string]any{"event": "subscribed"}
			sub.ackFields(ack)
			s.sendJSON(c, ack)
		case "unsubscribe":
			sub := subscriptionFromMessage(msg)
			s.hub.removeSubscription(c, sub)
			ack := map[string]any{"event": "unsubscribed"}
			sub.ackFields(ack)
			s.sendJSON(c, ack)
		case "ping":
			s.sendJSON(c, map[string]any{"event": "pong"})
		default:
			s.sendJSON(c, map[string]any{"event": "error", "message": "unknown action: " + msg.Action})
		}
	}
}

func (s *Server) sendJSON(c *client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.WithField("error", err).Warn("fanout: failed to marshal reply")
		return
	}
	select {
	case c.send <- payload:
	default:
		s.log.WithField("user_id", c.userID).Warn("fanout: client send buffer full, dropping reply")
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcastBody is the wire shape the engine's producer POSTs (spec §4.7
// "POST a batch {type: "changes", items: [...]}").
type broadcastBody struct {
	Type  string           `json:"type"`
	Items []map[string]any `json:"items"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid broadcast payload", http.StatusBadRequest)
		return
	}
	senderUserID := r.Header.Get(bus.SenderUserIDHeader)
	sent := s.hub.Broadcast(body.Items, senderUserID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sent": sent})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
