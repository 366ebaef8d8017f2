// Package stream broadcasts subsampled particle frames to websocket clients
// and relays their run commands back to the host loop.
package stream

import (
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/controller"
)

const writeTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers are served from anywhere
	},
}

// FrameMessage is the JSON payload of one broadcast frame.
type FrameMessage struct {
	Type      string    `json:"type"`
	Frame     int       `json:"frame"`
	Time      float64   `json:"time"`
	WorldX    float32   `json:"worldX"`
	WorldY    float32   `json:"worldY"`
	Total     int       `json:"total"`  // particles in the simulation
	Stride    int       `json:"stride"` // every stride-th particle is sent
	Positions []float32 `json:"positions"`
	Speeds    []float32 `json:"speeds"`
}

// Command is a run control request from a client.
type Command struct {
	Command string `json:"command"` // pause, resume, toggle, step, reset, dump
}

// Hub tracks connected clients. It implements controller.FrameSink.
type Hub struct {
	interval     int
	maxParticles int
	logger       *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	last    *FrameMessage

	commands chan Command
}

// NewHub creates a hub from the stream config.
func NewHub(cfg config.StreamConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		interval:     max(cfg.FrameInterval, 1),
		maxParticles: cfg.MaxParticles,
		logger:       logger,
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		commands:     make(chan Command, 16),
	}
}

// Commands delivers client commands. The host loop drains it between ticks.
func (h *Hub) Commands() <-chan Command { return h.commands }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WantsFrame reports whether frame is on the broadcast interval and anyone
// is listening.
func (h *Hub) WantsFrame(frame int) bool {
	return frame%h.interval == 0 && h.Clients() > 0
}

// PublishFrame subsamples f and writes it to every client. Clients whose
// write fails are dropped.
func (h *Hub) PublishFrame(f controller.Frame) {
	msg := NewFrameMessage(f, h.maxParticles)

	h.mu.Lock()
	h.last = &msg
	h.mu.Unlock()

	h.broadcast(&msg)
}

// NewFrameMessage builds the payload for f, keeping at most maxParticles
// evenly strided particles. maxParticles <= 0 keeps all of them.
func NewFrameMessage(f controller.Frame, maxParticles int) FrameMessage {
	n := len(f.Positions) / 2
	stride := 1
	if maxParticles > 0 && n > maxParticles {
		stride = (n + maxParticles - 1) / maxParticles
	}
	kept := (n + stride - 1) / stride

	msg := FrameMessage{
		Type:      "frame",
		Frame:     f.Index,
		Time:      f.SimTime,
		WorldX:    f.WorldX,
		WorldY:    f.WorldY,
		Total:     n,
		Stride:    stride,
		Positions: make([]float32, 0, 2*kept),
		Speeds:    make([]float32, 0, kept),
	}
	for i := 0; i < n; i += stride {
		msg.Positions = append(msg.Positions, f.Positions[2*i], f.Positions[2*i+1])
		var speed float32
		if 2*i+1 < len(f.Velocities) {
			vx, vy := float64(f.Velocities[2*i]), float64(f.Velocities[2*i+1])
			speed = float32(math.Hypot(vx, vy))
		}
		msg.Speeds = append(msg.Speeds, speed)
	}
	return msg
}

func (h *Hub) broadcast(msg *FrameMessage) {
	h.mu.RLock()
	var failed []*websocket.Conn
	for conn, connMu := range h.clients {
		if err := write(conn, connMu, msg); err != nil {
			h.logger.Warn("websocket write failed", "remote", conn.RemoteAddr().String(), "error", err)
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
	}
}

func write(conn *websocket.Conn, connMu *sync.Mutex, v any) error {
	connMu.Lock()
	defer connMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *Hub) add(conn *websocket.Conn) *sync.Mutex {
	connMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = connMu
	last := h.last
	h.mu.Unlock()

	if last != nil {
		if err := write(conn, connMu, last); err != nil {
			h.logger.Warn("websocket write failed", "remote", conn.RemoteAddr().String(), "error", err)
		}
	}
	return connMu
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// ServeWS upgrades the request and reads commands until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.add(conn)
	h.logger.Info("stream client connected", "remote", conn.RemoteAddr().String(), "clients", h.Clients())
	defer func() {
		h.remove(conn)
		h.logger.Info("stream client disconnected", "remote", conn.RemoteAddr().String(), "clients", h.Clients())
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		select {
		case h.commands <- cmd:
		default:
			h.logger.Warn("stream command dropped", "command", cmd.Command)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
