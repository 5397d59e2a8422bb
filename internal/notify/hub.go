package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/squire/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrHubBusy is returned when the event queue is full.
var ErrHubBusy = errors.New("notice hub busy")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans events out to the websocket clients of their recipients.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan Event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[int64]map[*Client]bool
	roles   map[*Client]string
}

// Client is one websocket connection of a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Event
	userID int64
	role   string
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[int64]map[*Client]bool),
		roles:      make(map[*Client]string),
	}
}

// Run processes registrations and events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*Client]bool)
			}
			h.clients[c.userID][c] = true
			h.roles[c] = c.role
			h.mu.Unlock()
			slog.Debug("notice client connected", "user", c.userID)

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	var targets []*Client
	for _, userID := range ev.Recipients {
		for c := range h.clients[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- ev:
		default:
			slog.Warn("notice client too slow, disconnecting", "user", c.userID)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return
	}
	delete(h.clients[c.userID], c)
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
	delete(h.roles, c)
	close(c.send)
	slog.Debug("notice client disconnected", "user", c.userID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
	clear(h.roles)
}

// Publish queues ev for delivery to connected recipients. It never blocks:
// when the queue is full the event is dropped and ErrHubBusy returned.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	select {
	case h.events <- ev:
		return nil
	default:
		return ErrHubBusy
	}
}

// Online reports whether a user has at least one live connection.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// RelayOnline reports whether a game master is connected.
func (h *Hub) RelayOnline(context.Context) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, role := range h.roles {
		if role == model.RoleGamemaster {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and streams the user's notice events. The
// caller authenticates the user beforehand.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user *model.User) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		userID: user.ID,
		role:   user.Role,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return errors.New("notice hub stopped")
	}

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("writing notice event failed", "user", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only keeps the connection alive; clients act through the REST API.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("notice websocket error", "user", c.userID, "error", err)
			}
			return
		}
	}
}
