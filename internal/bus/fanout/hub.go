// Package fanout is the real-time broadcast service: it receives committed
// change batches from the engine's producer and pushes them to subscribed
// WebSocket clients, routed by class/object/scope (spec §4.7 "fan-out
// service").
package fanout

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/elementstore/core/pkg/logger"
)

// Subscription narrows which changes a client receives. Exactly one of the
// three fields is set per subscribe action (spec §4.7): ClassID subscribes
// to every change of a class, ObjectKey ("<class>/<id>") to one object, and
// ScopeID to every item carrying a matching `_scope_id`.
type Subscription struct {
	ClassID   string
	ObjectKey string
	ScopeID   string
}

func (s Subscription) matchesItem(item map[string]any) bool {
	classID, _ := item["class_id"].(string)
	id, _ := item["id"]
	if s.ClassID != "" && s.ClassID == classID {
		return true
	}
	if s.ObjectKey != "" && s.ObjectKey == fmt.Sprintf("%s/%v", classID, id) {
		return true
	}
	if s.ScopeID != "" {
		if scope, ok := item["_scope_id"]; ok && fmt.Sprint(scope) == s.ScopeID {
			return true
		}
	}
	return false
}

// ackFields renders the subscription as the fields echoed back on a
// subscribed/unsubscribed acknowledgement.
func (s Subscription) ackFields(out map[string]any) {
	if s.ClassID != "" {
		out["class_id"] = s.ClassID
	}
	if s.ObjectKey != "" {
		out["id"] = s.ObjectKey
	}
	if s.ScopeID != "" {
		out["scope_id"] = s.ScopeID
	}
}

type client struct {
	conn   *websocket.Conn
	userID string
	subs   []Subscription
	send   chan []byte
}

// Hub holds the active WebSocket clients and routes incoming change batches
// to every subscriber whose subscription matches at least one item, skipping
// the batch's originating user so a client never receives an echo of its own
// write (spec §4.7 "skip-sender-by-user-id"). A single mutex guards both the
// client set and every client's subscription list, matching the spec's
// concurrency note that disconnect cleanup and route-lookup must not race.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

// NewHub returns an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) addSubscription(c *client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.subs = append(c.subs, sub)
}

func (h *Hub) removeSubscription(c *client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := c.subs[:0]
	for _, s := range c.subs {
		if s != sub {
			out = append(out, s)
		}
	}
	c.subs = out
}

// Broadcast routes the batch to every connected client with at least one
// subscription matching at least one item, other than senderUserID, sending
// the full batch payload once per survivor (spec §4.7 "Routing"). It returns
// the number of clients the batch was sent to.
func (h *Hub) Broadcast(items []map[string]any, senderUserID string) int {
	payload, err := json.Marshal(map[string]any{"type": "changes", "items": items})
	if err != nil {
		h.log.WithField("error", err).Warn("fanout: failed to marshal broadcast batch")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.clients {
		if senderUserID != "" && c.userID == senderUserID {
			continue
		}
		if !clientMatchesAny(c.subs, items) {
			continue
		}
		select {
		case c.send <- payload:
			sent++
		default:
			h.log.WithField("user_id", c.userID).Warn("fanout: client send buffer full, dropping batch")
		}
	}
	return sent
}

func clientMatchesAny(subs []Subscription, items []map[string]any) bool {
	for _, item := range items {
		for _, s := range subs {
			if s.matchesItem(item) {
				return true
			}
		}
	}
	return false
}

// ClientCount reports the number of currently connected clients, exposed
// for the /health endpoint and metrics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
