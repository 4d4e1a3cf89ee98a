package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/pkg/logger"
)

const (
	liveWriteWait  = 200 * time.Millisecond
	liveSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

// liveHub fans messages out to websocket clients. broadcast never blocks:
// it is called from the sample path, and a client that cannot keep up
// loses messages.
type liveHub struct {
	logger *logger.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

func newLiveHub(log *logger.Logger) *liveHub {
	return &liveHub{logger: log, clients: make(map[*liveClient]struct{})}
}

// join queues the messages built by initial and registers c in one step
// under the hub lock, so no broadcast falls between the two.
func (h *liveHub) join(c *liveClient, initial func() []models.LiveMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, msg := range initial() {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("Failed to marshal live message", logger.Err(err))
			continue
		}
		c.send <- data
	}
	h.clients[c] = struct{}{}
}

func (h *liveHub) remove(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *liveHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *liveHub) broadcast(msg models.LiveMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal live message", logger.Err(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("Live client lagging, message dropped", logger.F("type", msg.Type))
		}
	}
}

func (h *liveHub) closeAll() {
	h.mu.Lock()
	clients := make([]*liveClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (c *liveClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(liveWriteWait))
}

// Live upgrades to a websocket that receives device, stats and error
// messages. The current device status and stats are sent first.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", logger.Err(err))
		return
	}

	client := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}

	h.live.join(client, func() []models.LiveMessage {
		device := h.tracker.DeviceStatus()
		stats := h.tracker.Stats()
		return []models.LiveMessage{
			{Type: "device", Device: &device},
			{Type: "stats", Stats: &stats},
		}
	})
	go client.writeLoop()
	h.logger.Info("Live client connected", logger.F("remote", r.RemoteAddr), logger.Int("clients", h.live.count()))

	defer func() {
		h.live.remove(client)
		h.logger.Info("Live client disconnected", logger.F("remote", r.RemoteAddr))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
