// Package bus fires fire-and-forget change notifications to the real-time
// fan-out service after a successful write (spec §4.7 "engine-side
// producer"). A failure to deliver never fails the write itself.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/elementstore/core/pkg/logger"
)

// SenderUserIDHeader carries the writing user's id on the broadcast POST so
// the fan-out service can drop that user's own connections from delivery
// (spec §4.7 "drops subscribers whose user id equals X-Sender-User-Id").
const SenderUserIDHeader = "X-Sender-User-Id"

// Event is one committed change, shaped as the broadcast item itself:
// {id, class_id, ...fields} plus _old (update) or _deleted (delete)
// (spec §4.7, §4.4 step 11, Glossary "Broadcast item").
type Event struct {
	Item   map[string]any
	UserID string
}

// broadcastBody is the wire shape POSTed to the fan-out service's
// /broadcast endpoint (spec §4.7 "POST a batch {type: "changes", items:
// [...]}"). The producer always posts a batch of one; the batch framing
// exists so the fan-out service's wire format is uniform regardless of how
// many items a caller ever accumulates per POST.
type broadcastBody struct {
	Type  string           `json:"type"`
	Items []map[string]any `json:"items"`
}

// Producer posts Events to the fan-out service's /broadcast endpoint.
type Producer struct {
	endpoint string
	client   *http.Client
	log      *logger.Logger
}

// NewProducer returns a Producer posting to endpoint with a 500ms timeout,
// matching the spec's bound on how long a write may be delayed by
// best-effort broadcast delivery.
func NewProducer(endpoint string, log *logger.Logger) *Producer {
	return &Producer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 500 * time.Millisecond},
		log:      log,
	}
}

// Publish fires ev at the fan-out service without blocking the caller on the
// network round trip longer than the client timeout, and never returns an
// error: delivery failures are logged and swallowed (spec §4.7 "best-effort,
// does not affect write success").
func (p *Producer) Publish(ctx context.Context, ev Event) {
	if p == nil || p.endpoint == "" {
		return
	}
	go func() {
		body := broadcastBody{Type: "changes", Items: []map[string]any{ev.Item}}
		payload, err := json.Marshal(body)
		if err != nil {
			p.log.WithField("error", err).Warn("bus: failed to marshal broadcast item")
			return
		}
		reqCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SenderUserIDHeader, ev.UserID)
		resp, err := p.client.Do(req)
		if err != nil {
			p.log.WithField("error", err).Debug("bus: broadcast delivery failed")
			return
		}
		resp.Body.Close()
	}()
}
