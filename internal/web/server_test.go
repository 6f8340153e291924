package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/hub"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
	"github.com/referencer/refsync/internal/room"
	"github.com/referencer/refsync/internal/store"
)

type testServer struct {
	*httptest.Server
	store *store.SQLStore
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := hub.New()
	rooms := room.NewRegistry(s, h, room.Options{Metrics: m})

	opts.Metrics = m
	opts.Gatherer = reg
	srv := NewServer(s, rooms, h, opts)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		h.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, rooms.Close(ctx))
		ts.Close()
		s.Close()
	})
	return &testServer{Server: ts, store: s}
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(path), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	SourceClientID string          `json:"sourceClientId"`
	RequestID      string          `json:"requestId"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketSync(t *testing.T) {
	ts := newTestServer(t, Options{})

	a := ts.dial(t, "/ws/ws1")
	state := readFrame(t, a)
	assert.Equal(t, room.MessageTypeState, state.Type)
	assert.JSONEq(t, `{"workspaceId":"ws1","layers":[],"editors":[{"index":0,"name":"Passage 1","visible":true,"contentJson":null}]}`, string(state.Payload))

	b := ts.dial(t, "/ws/ws1")
	assert.Equal(t, room.MessageTypeState, readFrame(t, b).Type)

	require.NoError(t, a.WriteJSON(map[string]any{
		"type":      "addLayer",
		"payload":   map[string]any{"id": "l1", "name": "Quotes", "color": "#00ff00"},
		"requestId": "r1",
	}))

	ack := readFrame(t, a)
	assert.Equal(t, room.MessageTypeAck, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)
	assert.JSONEq(t, `{}`, string(ack.Payload))

	action := readFrame(t, b)
	assert.Equal(t, room.MessageTypeAction, action.Type)
	assert.NotEmpty(t, action.SourceClientID)
	assert.JSONEq(t, `{"actionType":"addLayer","id":"l1","name":"Quotes","color":"#00ff00"}`, string(action.Payload))

	// a late joiner gets the new layer in its snapshot
	c := ts.dial(t, "/ws/ws1")
	var snap store.WorkspaceState
	require.NoError(t, json.Unmarshal(readFrame(t, c).Payload, &snap))
	require.Len(t, snap.Layers, 1)
	assert.Equal(t, "Quotes", snap.Layers[0].Name)
}

func TestWebSocketErrorReply(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.dial(t, "/ws/ws1")
	readFrame(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "explode", "payload": map[string]any{}}))

	f := readFrame(t, a)
	assert.Equal(t, room.MessageTypeError, f.Type)
	assert.JSONEq(t, `{"message":"Unknown action: explode"}`, string(f.Payload))
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, Options{Auth: NewAuthorizer("s3cret")})

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/ws1"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	conn := ts.dial(t, "/ws/ws1?token=s3cret")
	assert.Equal(t, room.MessageTypeState, readFrame(t, conn).Type)
}

func TestWebSocketChecksOrigin(t *testing.T) {
	ts := newTestServer(t, Options{Socket: config.SocketConfig{AllowedOrigins: []string{"https://referencer.app"}}})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/ws1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	header = http.Header{"Origin": []string{"https://referencer.app"}}
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("/ws/ws1"), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	assert.Equal(t, room.MessageTypeState, readFrame(t, conn).Type)
}

func TestStateEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()

	resp, err := http.Get(ts.URL + "/api/workspaces/missing/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, ts.store.EnsureWorkspace(ctx, "ws1"))
	resp, err = http.Get(ts.URL + "/api/workspaces/ws1/state")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"workspaceId":"ws1","layers":[],"editors":[{"index":0,"name":"Passage 1","visible":true,"contentJson":null}]}`, string(body))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "0", resp.Header.Get("X-Room-Members"))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/workspaces/ws1/state", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	require.NoError(t, ts.store.AddLayer(ctx, "ws1", "l1", "Layer", "#fff"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, etag, resp.Header.Get("ETag"))

	t.Run("room members", func(t *testing.T) {
		conn := ts.dial(t, "/ws/ws1")
		readFrame(t, conn)

		resp, err := http.Get(ts.URL + "/api/workspaces/ws1/state")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "1", resp.Header.Get("X-Room-Members"))
	})
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(0), health["connectedRooms"])

	conn := ts.dial(t, "/ws/ws1")
	readFrame(t, conn)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, float64(1), health["connectedRooms"])
	assert.Equal(t, float64(1), health["rooms"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "refsync_ws_connections 1")
	assert.Contains(t, string(body), "refsync_ws_rooms 1")

	require.NoError(t, ts.store.Close())
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClientSendQueueFull(t *testing.T) {
	c := newClient(nil, clientOptions{sendQueueSize: 1}, logger.Global())

	require.NoError(t, c.Send([]byte("one")))
	assert.ErrorIs(t, c.Send([]byte("two")), ErrSendQueueFull)
	assert.ErrorIs(t, c.Send([]byte("three")), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestTokenAuth(t *testing.T) {
	auth := TokenAuth{Token: "abc"}

	tests := []struct {
		name   string
		url    string
		header string
		want   bool
	}{
		{"query", "/ws/x?token=abc", "", true},
		{"bearer", "/ws/x", "Bearer abc", true},
		{"wrong", "/ws/x?token=abd", "", false},
		{"missing", "/ws/x", "", false},
		{"basic", "/ws/x", "Basic abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			ok, err := auth.CanEdit(r, "x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	_, isAllowAll := NewAuthorizer("").(AllowAll)
	assert.True(t, isAllowAll)
}
