package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Bt1QMix/core/clock"
	"Bt1QMix/core/engine"
	"Bt1QMix/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	msgTypeBeat   = "beat"
	msgTypeStatus = "status"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame pushed on /ws/beats.
type wsEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// beatPayload mirrors a committed beat event.
type beatPayload struct {
	Number   int64   `json:"number"`
	Time     float64 `json:"time"`
	Tempo    float64 `json:"tempo"`
	Downbeat bool    `json:"downbeat"`
}

// BeatHub fans beat events and session snapshots out to WebSocket clients.
// Slow clients are dropped rather than allowed to stall the metronome path.
type BeatHub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

func NewBeatHub() *BeatHub {
	return &BeatHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop.
func (h *BeatHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("beat client connected", logger.String("client", client.id))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastAll(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *BeatHub) Stop() {
	close(h.done)
}

// ClientCount reports the number of connected clients.
func (h *BeatHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastBeat pushes one committed beat. Called on the metronome
// goroutine, so it never blocks: a full hub queue drops the frame.
func (h *BeatHub) BroadcastBeat(ev clock.BeatEvent) {
	h.send(wsEnvelope{
		Type: msgTypeBeat,
		Data: beatPayload{
			Number:   ev.Number,
			Time:     ev.Time,
			Tempo:    ev.Tempo,
			Downbeat: ev.Downbeat,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// BroadcastStatus pushes a periodic session snapshot with per-deck sync
// state.
func (h *BeatHub) BroadcastStatus(st engine.SessionStatus) {
	h.send(wsEnvelope{
		Type:      msgTypeStatus,
		Data:      st,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *BeatHub) send(env wsEnvelope) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Warn("failed to marshal ws frame", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *BeatHub) broadcastAll(msg []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.sendCh <- msg:
		default:
			// send buffer full, drop the client
			h.removeClient(c)
		}
	}
}

func (h *BeatHub) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.sendCh)
		logger.Info("beat client disconnected", logger.String("client", c.id))
	}
}

func (h *BeatHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.sendCh)
	}
	h.clients = make(map[*wsClient]bool)
}

// ServeWS upgrades the connection and attaches it to the hub.
func (h *BeatHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	client := &wsClient{
		hub:    h,
		conn:   conn,
		sendCh: make(chan []byte, 64),
		id:     uuid.NewString(),
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// wsClient is one /ws/beats connection. The stream is one-way; reads only
// service control frames and detect disconnects.
type wsClient struct {
	hub    *BeatHub
	conn   *websocket.Conn
	sendCh chan []byte
	id     string
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.String("client", c.id),
					logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
