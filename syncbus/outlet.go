// Package syncbus publishes per-frame (frame_no, trigger_time, trigger_type)
// samples to an outbound, time-synchronized stream consumed by other
// acquisition devices in the experiment. No Go binding for a lab streaming
// layer exists anywhere in this codebase's reference corpus, so the outlet
// is a small websocket broadcast hub — the transport the corpus actually
// uses for "push structured samples to connected consumers in real time"
// (see DESIGN.md) — framed to carry the same 3-channel double-precision
// wire contract an LSL outlet would.
package syncbus

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"imx296-capture/corelog"
)

// StreamInfo describes the outlet the way an LSL StreamInfo would: a name,
// a content type, a fixed channel count, and a nominal sample rate.
type StreamInfo struct {
	Name         string
	Type         string
	ChannelCount int
	NominalRate  float64
	SourceID     string
}

// Frame is one outbound sample: 3 channels (frame_number, trigger_time,
// trigger_type) plus the publisher's own synchronized timestamp — never the
// camera's capture_time, which stays internal to the core.
type Frame struct {
	Stream    string     `json:"stream"`
	SourceID  string     `json:"source_id"`
	Timestamp float64    `json:"timestamp"`
	Channels  [3]float64 `json:"channels"`
}

// Outlet is the narrow interface the Publisher pushes samples through.
// Swappable so tests and the no-sync-bus-available degrade path don't need
// a live listener.
type Outlet interface {
	Open() error
	Push(Frame) error
	Close()
}

// noopOutlet satisfies Outlet without doing anything, used when the
// websocket listener can't bind or the caller disabled sync-bus publishing.
type noopOutlet struct{}

func (noopOutlet) Open() error    { return nil }
func (noopOutlet) Push(Frame) error { return nil }
func (noopOutlet) Close()         {}

// wsOutlet broadcasts frames as JSON text messages to every connected
// websocket client, in the style of a hub's broadcastAll: a registry of
// clients each with their own buffered send channel, fed by one
// upgrade-and-pump goroutine per connection.
type wsOutlet struct {
	info     StreamInfo
	addr     string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	srv      *http.Server
	listener net.Listener
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSOutlet creates (but does not open) a websocket-backed outlet bound
// to addr, identified by info.
func NewWSOutlet(addr string, info StreamInfo) Outlet {
	if info.SourceID == "" {
		info.SourceID = uuid.NewString()
	}
	return &wsOutlet{
		info:     info,
		addr:     addr,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*wsClient]struct{}),
	}
}

func (o *wsOutlet) Open() error {
	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return err
	}
	o.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", o.handleSubscribe)
	o.srv = &http.Server{Handler: mux}

	go func() {
		if err := o.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			corelog.L().Warn("syncbus: websocket outlet serve error: %v", err)
		}
	}()

	corelog.L().Info("syncbus: outlet %q listening on %s/stream", o.info.Name, o.addr)
	return nil
}

func (o *wsOutlet) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		corelog.L().Debug("syncbus: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	o.mu.Lock()
	o.clients[c] = struct{}{}
	o.mu.Unlock()

	go o.pump(c)
}

func (o *wsOutlet) pump(c *wsClient) {
	defer func() {
		o.mu.Lock()
		delete(o.clients, c)
		o.mu.Unlock()
		c.conn.Close()
	}()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (o *wsOutlet) Push(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for c := range o.clients {
		select {
		case c.send <- data:
		default:
			// a slow subscriber never blocks the publisher's hot path
		}
	}
	return nil
}

func (o *wsOutlet) Close() {
	if o.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.srv.Shutdown(ctx)
	}

	o.mu.Lock()
	for c := range o.clients {
		close(c.send)
	}
	o.clients = make(map[*wsClient]struct{})
	o.mu.Unlock()
}
