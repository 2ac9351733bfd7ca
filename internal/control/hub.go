package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/session"
	"github.com/goodtune/ktrack/internal/timer"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Live event types.
const (
	EventStatus     = "status"
	EventClock      = "clock"
	EventActivity   = "activity"
	EventCheckpoint = "checkpoint"
	EventPhase      = "phase"
)

const liveWriteTimeout = 2 * time.Second

// Event is one message on the live stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PhaseChange is the data of a phase event.
type PhaseChange struct {
	From session.Phase `json:"from"`
	To   session.Phase `json:"to"`
}

// LiveHub fans session events out to websocket clients.
type LiveHub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	wmu      sync.Mutex
	logger   zerolog.Logger
}

// NewLiveHub creates a hub with no clients.
func NewLiveHub(logger zerolog.Logger) *LiveHub {
	return &LiveHub{
		clients: make(map[*websocket.Conn]struct{}),
		// The control server binds to loopback; any local origin may watch.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger.With().Str("handler", "live").Logger(),
	}
}

// Attach subscribes the hub to every event stream of sess. The returned
// function removes the subscriptions.
func (h *LiveHub) Attach(sess *session.Session) func() {
	unsubscribe := []func(){
		sess.SubscribeClock(func(t timer.Tick) {
			h.Broadcast(Event{Type: EventClock, Data: t})
		}),
		sess.SubscribeActivity(func(snap model.ActivitySnapshot) {
			h.Broadcast(Event{Type: EventActivity, Data: snap})
		}),
		sess.OnCheckpoint(func(_ model.Artifact, result model.CheckpointResult) {
			h.Broadcast(Event{Type: EventCheckpoint, Data: result})
		}),
		sess.SubscribePhase(func(from, to session.Phase) {
			h.Broadcast(Event{Type: EventPhase, Data: PhaseChange{From: from, To: to}})
		}),
	}

	return func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}
}

// HandleWS upgrades the request, sends hello to the new client and keeps it
// registered until it disconnects.
func (h *LiveHub) HandleWS(w http.ResponseWriter, r *http.Request, hello Event) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Live upgrade failed")
		return
	}

	// Register before the hello so a client that has read it cannot miss
	// the next broadcast.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.LiveClients.Set(float64(count))

	h.logger.Debug().Str("remote_addr", r.RemoteAddr).Int("clients", count).Msg("Live client connected")

	if data, err := json.Marshal(hello); err == nil {
		h.wmu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		_ = c.WriteMessage(websocket.TextMessage, data)
		h.wmu.Unlock()
	}

	_ = c.SetReadDeadline(time.Time{})
	for {
		// Reads only detect the client going away.
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
}

// Broadcast sends ev to every connected client. Slow clients are bounded by
// a per-message write deadline.
func (h *LiveHub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode live event")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping live client")
			_ = c.Close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LiveHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	h.wmu.Lock()
	defer h.wmu.Unlock()
	for c := range clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(liveWriteTimeout))
		_ = c.Close()
	}
	metrics.LiveClients.Set(0)
}

func (h *LiveHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.LiveClients.Set(float64(count))

	_ = c.Close()
	h.logger.Debug().Int("clients", count).Msg("Live client disconnected")
}
