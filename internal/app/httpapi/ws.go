package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linktum-network/matrix-service/internal/app/domain/token"
	"github.com/linktum-network/matrix-service/internal/app/metrics"
	"github.com/linktum-network/matrix-service/internal/chain/events"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 32
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is public read-only data; any origin may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventView is the wire form of a contract event. Amounts are decimal.
type eventView struct {
	Type        string `json:"type"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	ObservedAt  string `json:"observed_at"`

	User     string `json:"user,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`

	UserID        uint64 `json:"user_id,omitempty"`
	Program       uint8  `json:"program,omitempty"`
	Level         uint8  `json:"level,omitempty"`
	Amount        string `json:"amount,omitempty"`
	ReinvestCount uint64 `json:"reinvest_count,omitempty"`
}

func viewEvent(ev events.Event) eventView {
	v := eventView{
		Type:          string(ev.Type),
		TxHash:        ev.TxHash.Hex(),
		BlockNumber:   ev.BlockNumber,
		ObservedAt:    ev.ObservedAt.UTC().Format(time.RFC3339),
		UserID:        ev.UserID,
		Program:       ev.Program,
		Level:         ev.Level,
		ReinvestCount: ev.ReinvestCount,
	}
	if !isZero(ev.User) {
		v.User = ev.User.Hex()
	}
	if !isZero(ev.Referrer) {
		v.Referrer = ev.Referrer.Hex()
	}
	if !isZero(ev.From) {
		v.From = ev.From.Hex()
	}
	if !isZero(ev.To) {
		v.To = ev.To.Hex()
	}
	if ev.Amount != nil {
		v.Amount = token.Format(ev.Amount, token.DefaultDecimals)
	}
	return v
}

func isZero(addr [20]byte) bool {
	return addr == [20]byte{}
}

// Hub fans decoded contract events out to websocket subscribers. Slow
// subscribers are dropped rather than allowed to stall the feed.
type Hub struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan eventView
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events-hub")
	}
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// Run consumes the event stream until it closes, broadcasting each event.
func (h *Hub) Run(stream <-chan events.Event) {
	for ev := range stream {
		metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
		h.broadcast(viewEvent(ev))
	}
	h.closeAll()
}

func (h *Hub) broadcast(view eventView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- view:
		default:
			// Subscriber fell behind; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan eventView, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for view := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(view); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
