package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"echoloc-core/pkg/session"
	"echoloc-core/pkg/sonar"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count never reached %d", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHubBroadcastsPingEvents(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)

	hub.PingCompleted("session-1", &sonar.PingResult{
		ID:             "ping-1",
		DistanceMeters: 1.5,
		Confidence:     0.9,
	})

	event := readEvent(t, conn)
	assert.Equal(t, EventPing, event.Type)
	assert.Equal(t, "session-1", event.SessionID)

	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ping-1", payload["id"])
	assert.InDelta(t, 1.5, payload["distance_meters"], 1e-9)
}

func TestHubSessionLifecycleEvents(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)

	hub.SessionStarted(session.StartInfo{SessionID: "s1", State: session.StateActive})
	hub.SessionStopped(session.Summary{SessionID: "s1", TotalPings: 2, State: session.StateCompleted})

	first := readEvent(t, conn)
	assert.Equal(t, EventSessionStarted, first.Type)
	assert.Equal(t, "s1", first.SessionID)

	second := readEvent(t, conn)
	assert.Equal(t, EventSessionStopped, second.Type)
}

func TestHubSessionFilter(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "?session_id=wanted")
	waitForSubscribers(t, hub, 1)

	hub.PingCompleted("other", &sonar.PingResult{ID: "skipped"})
	hub.PingCompleted("wanted", &sonar.PingResult{ID: "delivered"})

	event := readEvent(t, conn)
	assert.Equal(t, "wanted", event.SessionID)

	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "delivered", payload["id"])
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)
}
