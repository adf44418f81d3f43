package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// HubConfig configures a Hub.
type HubConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// SendBuffer is the number of encoded events queued per client before
	// the client is dropped as too slow.
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
	Logger       logr.Logger
}

// Hub is an Emitter that broadcasts events to websocket clients. Clients
// connect through ServeHTTP and may pass ?thread=<id> to receive a single
// thread's events.
type Hub struct {
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	log          logr.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn   *websocket.Conn
	thread string
	send   chan []byte
	once   sync.Once
	done   chan struct{}
}

func (c *hubClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a Hub. A nil config uses defaults.
func NewHub(cfg *HubConfig) *Hub {
	if cfg == nil {
		cfg = &HubConfig{}
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		log:          log.WithName("hub"),
		clients:      make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "upgrade failed", "remote", r.RemoteAddr)
		return
	}
	c := &hubClient{
		conn:   conn,
		thread: r.URL.Query().Get("thread"),
		send:   make(chan []byte, h.sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.V(1).Info("client connected", "remote", r.RemoteAddr, "thread", c.thread)
	go h.writeLoop(c)
	go h.readLoop(c)
}

// Emit encodes ev once and queues it on every matching client. A client
// whose queue is full is disconnected.
func (h *Hub) Emit(_ context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.thread != "" && c.thread != ev.ThreadID {
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
		default:
			h.log.V(1).Info("dropping slow client", "thread", c.thread)
			c.stop()
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	return nil
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
	_ = c.conn.Close()
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(c *hubClient) {
	defer c.stop()
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.V(1).Info("client read failed", "error", err.Error())
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
			return
		}
	}
}

// ValidateURL checks that rawURL is a ws or wss URL with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid scheme %q, expected ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// Subscribe connects to a Hub and decodes its events. The returned channel
// is closed when ctx is done or the connection ends.
func Subscribe(ctx context.Context, rawURL string, header http.Header) (<-chan Event, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}

	out := make(chan Event, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
