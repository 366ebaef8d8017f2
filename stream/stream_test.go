package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/controller"
)

var quietLogger = slog.New(slog.DiscardHandler)

func testFrame(n int) controller.Frame {
	f := controller.Frame{Index: 4, SimTime: 0.25, WorldX: 8, WorldY: 4}
	f.Positions = make([]float32, 2*n)
	f.Velocities = make([]float32, 2*n)
	for i := range n {
		f.Positions[2*i], f.Positions[2*i+1] = float32(i), float32(-i)
		f.Velocities[2*i], f.Velocities[2*i+1] = 3, 4
	}
	return f
}

func TestNewFrameMessage(t *testing.T) {
	tests := []struct {
		name       string
		n, limit   int
		wantStride int
		wantKept   int
	}{
		{"under limit", 10, 20, 1, 10},
		{"no limit", 10, 0, 1, 10},
		{"exact limit", 10, 10, 1, 10},
		{"halved", 10, 5, 2, 5},
		{"uneven", 10, 4, 3, 4},
		{"empty", 0, 4, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewFrameMessage(testFrame(tt.n), tt.limit)
			assert.Equal(t, "frame", msg.Type)
			assert.Equal(t, tt.n, msg.Total)
			assert.Equal(t, tt.wantStride, msg.Stride)
			require.Len(t, msg.Speeds, tt.wantKept)
			require.Len(t, msg.Positions, 2*tt.wantKept)
			for k := range tt.wantKept {
				assert.Equal(t, float32(k*tt.wantStride), msg.Positions[2*k])
				assert.InDelta(t, 5, msg.Speeds[k], 1e-6)
			}
		})
	}
}

func TestWantsFrameNeedsClients(t *testing.T) {
	hub := NewHub(config.StreamConfig{FrameInterval: 2}, quietLogger)
	assert.False(t, hub.WantsFrame(2))
	assert.False(t, hub.WantsFrame(3))
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() == want }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestBroadcastAndCommands(t *testing.T) {
	hub := NewHub(config.StreamConfig{FrameInterval: 2, MaxParticles: 50}, quietLogger)
	srv := httptest.NewServer(NewServer("", hub, quietLogger).Handler())
	defer srv.Close()

	a := dial(t, srv, hub, 1)
	b := dial(t, srv, hub, 2)
	assert.True(t, hub.WantsFrame(4))
	assert.False(t, hub.WantsFrame(5))

	hub.PublishFrame(testFrame(100))
	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg FrameMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, 4, msg.Frame)
		assert.Equal(t, 2, msg.Stride)
		assert.Len(t, msg.Positions, 100)
		assert.Equal(t, float32(8), msg.WorldX)
	}

	require.NoError(t, a.WriteJSON(Command{Command: "pause"}))
	select {
	case cmd := <-hub.Commands():
		assert.Equal(t, "pause", cmd.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("command not relayed")
	}

	// A late joiner gets the last frame immediately.
	c := dial(t, srv, hub, 3)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var late FrameMessage
	require.NoError(t, c.ReadJSON(&late))
	assert.Equal(t, 4, late.Frame)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	hub := NewHub(config.StreamConfig{FrameInterval: 1}, quietLogger)
	srv := httptest.NewServer(NewServer("", hub, quietLogger).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Clients)
}
