package fanout

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/pkg/logger"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(logger.NewDefault("fanout-test"))
	server := NewServer(hub, logger.NewDefault("fanout-test"))
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, hub
}

func dialWS(t *testing.T, ts *httptest.Server, userID string) (*websocket.Conn, map[string]any) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, received, err := conn.ReadMessage()
	require.NoError(t, err)
	var connected map[string]any
	require.NoError(t, json.Unmarshal(received, &connected))
	return conn, connected
}

func TestWebSocket_SendsConnectedEventOnAccept(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, connected := dialWS(t, ts, "bob")
	defer conn.Close()

	assert.Equal(t, "connected", connected["event"])
	assert.Equal(t, "bob", connected["user_id"])
}

func TestHandleHealth_ReportsClientCount(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestHandleBroadcast_RejectsMalformedPayload(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/broadcast", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleBroadcast_ReportsSentCount(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "bob")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{
		"action": "subscribe", "class_id": "widget",
	})))
	time.Sleep(50 * time.Millisecond)

	body := broadcastBody{Type: "changes", Items: []map[string]any{{"id": "1", "class_id": "widget"}}}
	resp, err := http.Post(ts.URL+"/broadcast", "application/json", bytes.NewReader(mustJSON(t, body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var respBody map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&respBody))
	assert.Equal(t, float64(1), respBody["sent"])
}

func TestWebSocket_SubscribeThenReceivesMatchingBatch(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "bob")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{
		"action": "subscribe", "class_id": "widget",
	})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, ackBytes, err := conn.ReadMessage()
	require.NoError(t, err)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(ackBytes, &ack))
	assert.Equal(t, "subscribed", ack["event"])
	assert.Equal(t, "widget", ack["class_id"])

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/broadcast", bytes.NewReader(mustJSON(t, broadcastBody{
		Type:  "changes",
		Items: []map[string]any{{"id": "1", "class_id": "widget"}},
	})))
	require.NoError(t, err)
	req.Header.Set(bus.SenderUserIDHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, received, err := conn.ReadMessage()
	require.NoError(t, err)

	var batch map[string]any
	require.NoError(t, json.Unmarshal(received, &batch))
	assert.Equal(t, "changes", batch["type"])
	items, ok := batch["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "widget", item["class_id"])
	assert.Equal(t, "1", item["id"])
}

func TestWebSocket_SenderDoesNotReceiveItsOwnBatch(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "alice")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{
		"action": "subscribe", "class_id": "widget",
	})))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage() // drain the subscribed ack
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/broadcast", bytes.NewReader(mustJSON(t, broadcastBody{
		Type:  "changes",
		Items: []map[string]any{{"id": "1", "class_id": "widget"}},
	})))
	require.NoError(t, err)
	req.Header.Set(bus.SenderUserIDHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the sender must not receive its own broadcast")
}

func TestWebSocket_PingRepliesWithPong(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "bob")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{"action": "ping"})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, received, err := conn.ReadMessage()
	require.NoError(t, err)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(received, &reply))
	assert.Equal(t, "pong", reply["event"])
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "bob")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{
		"action": "subscribe", "class_id": "widget",
	})))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage() // subscribed ack
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{
		"action": "unsubscribe", "class_id": "widget",
	})))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, unsubBytes, err := conn.ReadMessage() // unsubscribed ack
	require.NoError(t, err)
	var unsub map[string]any
	require.NoError(t, json.Unmarshal(unsubBytes, &unsub))
	assert.Equal(t, "unsubscribed", unsub["event"])

	resp, err := http.Post(ts.URL+"/broadcast", "application/json", bytes.NewReader(mustJSON(t, broadcastBody{
		Type:  "changes",
		Items: []map[string]any{{"id": "1", "class_id": "widget"}},
	})))
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "an unsubscribed client must not receive further matching batches")
}

func TestWebSocket_UnknownActionRepliesWithError(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _ := dialWS(t, ts, "bob")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustJSON(t, map[string]any{"action": "bogus"})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, received, err := conn.ReadMessage()
	require.NoError(t, err)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(received, &reply))
	assert.Equal(t, "error", reply["event"])
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
