package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kwv/tudonav/nav"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

// Event types pushed to websocket clients
const (
	EventLocation = "location"
	EventStatus   = "status"
	EventTracking = "tracking"
	EventRoute    = "route"
)

// Event is the JSON message pushed to websocket clients
type Event struct {
	Type      string            `json:"type"`
	Location  *nav.ZoneEstimate `json:"location,omitempty"`
	Route     *nav.RouteSummary `json:"route,omitempty"`
	Error     *string           `json:"error,omitempty"`
	Message   string            `json:"message,omitempty"`
	State     string            `json:"state,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func locationEvent(est *nav.ZoneEstimate) Event {
	return Event{Type: EventLocation, Location: est, Timestamp: time.Now()}
}

func statusEvent(scanErr error) Event {
	ev := Event{Type: EventStatus, Timestamp: time.Now()}
	if scanErr != nil {
		code := nav.ScanErrorCode(scanErr)
		if code == "" {
			code = nav.ErrScanFailed.Error()
		}
		ev.Error = &code
		ev.Message = scanErr.Error()
	}
	return ev
}

func trackingEvent(state nav.TrackingState) Event {
	return Event{Type: EventTracking, State: state.String(), Timestamp: time.Now()}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// debug surface; the UI may be served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected websocket client. Run must be
// running for clients to register and receive broadcasts.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	clients    map[*wsClient]struct{}
	done       chan struct{}
	count      atomic.Int32
	logger     *zap.Logger
}

// NewHub creates an idle hub
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*wsClient]struct{}),
		done:       make(chan struct{}),
		logger:     zap.L().Named("ws"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client. A hub runs at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int32(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int32(len(h.clients)))
}

// Clients returns the number of registered clients
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Broadcast queues ev for every client. It never blocks; events are dropped
// when the queue is full.
func (h *Hub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshaling websocket event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("websocket broadcast queue full", zap.String("type", ev.Type))
	}
}

// ServeWS upgrades the request and registers the connection. The initial
// events are sent before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial ...Event) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, wsSendBuffer+len(initial))}
	for _, ev := range initial {
		if msg, err := json.Marshal(ev); err == nil {
			c.send <- msg
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages and unregisters on close
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
