package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaze-engine/pkg/gaze"
)

func dialIngest(t *testing.T, server *Server, sessionID string) (*websocket.Conn, func()) {
	t.Helper()

	ts := httptest.NewServer(server.mux)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + sessionID

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func TestWebsocketIngestSamples(t *testing.T) {
	server := newTestServer(t)
	sessionID := startTestSession(t, server)

	conn, cleanup := dialIngest(t, server, sessionID)
	defer cleanup()

	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Type: "samples",
		Samples: []gaze.GazeSample{
			{X: 100, Y: 100, TimestampMs: 10},
			{X: 105, Y: 98, TimestampMs: 60},
		},
	}))

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, 2, ack.Accepted)
	assert.Equal(t, 0, ack.Rejected)

	// Single-sample frame with no explicit type
	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Sample: &gaze.GazeSample{X: 110, Y: 95, TimestampMs: 120},
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, 1, ack.Accepted)

	recorder := doJSON(t, server, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestWebsocketIngestRejectsInvalidSample(t *testing.T) {
	server := newTestServer(t)
	sessionID := startTestSession(t, server)

	conn, cleanup := dialIngest(t, server, sessionID)
	defer cleanup()

	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Type: "samples",
		Samples: []gaze.GazeSample{
			{X: -5, Y: 100, TimestampMs: 10},
			{X: 105, Y: 98, TimestampMs: 60},
		},
	}))

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, 1, ack.Accepted)
	assert.Equal(t, 1, ack.Rejected)
	assert.Contains(t, ack.Error, "invalid gaze sample")
}

func TestWebsocketIngestDeviceMetadata(t *testing.T) {
	server := newTestServer(t)
	sessionID := startTestSession(t, server)

	conn, cleanup := dialIngest(t, server, sessionID)
	defer cleanup()

	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Type:         "device",
		ScreenWidth:  3840,
		ScreenHeight: 2160,
	}))

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)

	// A 4K coordinate is now inside the reported bounds
	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Type:    "samples",
		Samples: []gaze.GazeSample{{X: 3000, Y: 2000, TimestampMs: 10}},
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, 1, ack.Accepted)
	assert.Equal(t, 0, ack.Rejected)
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	server := newTestServer(t)

	ts := httptest.NewServer(server.mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketClosesOnStoppedSession(t *testing.T) {
	server := newTestServer(t)
	sessionID := startTestSession(t, server)

	conn, cleanup := dialIngest(t, server, sessionID)
	defer cleanup()

	recorder := doJSON(t, server, http.MethodPost, "/api/sessions/"+sessionID+"/stop", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	require.NoError(t, conn.WriteJSON(wsIngestMessage{
		Type:    "samples",
		Samples: []gaze.GazeSample{{X: 1, Y: 1, TimestampMs: 1}},
	}))

	var ack wsAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.NotEmpty(t, ack.Error)

	// The server ends the stream after acknowledging
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
