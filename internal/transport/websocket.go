// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "spectrogram/internal/log"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	broadcastQueue = 256
	writeWait      = time.Second
)

// WebSocketPublisher broadcasts frames as JSON to every client connected to
// /ws. When a registry is given it also serves /metrics.
type WebSocketPublisher struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan Frame
	sendMu    sync.RWMutex // guards broadcast against close
	closed    bool
	dropped   atomic.Uint64
	mux       *http.ServeMux
	server    *http.Server
	listener  net.Listener

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebSocketPublisher creates a publisher for addr. Nothing listens until
// Start; Handler can be mounted elsewhere instead.
func NewWebSocketPublisher(addr string, registry *prometheus.Registry) *WebSocketPublisher {
	wsp := &WebSocketPublisher{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // frames are public
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Frame, broadcastQueue),
		mux:       http.NewServeMux(),
	}
	wsp.mux.HandleFunc("/ws", wsp.handleWebSocket)
	wsp.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if registry != nil {
		wsp.mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	wsp.wg.Add(1)
	go wsp.handleBroadcasts()
	return wsp
}

func (wsp *WebSocketPublisher) Name() string {
	return "websocket"
}

// Handler returns the HTTP handler serving /ws, /healthz and /metrics.
func (wsp *WebSocketPublisher) Handler() http.Handler {
	return wsp.mux
}

// Start listens on the configured address and serves in a goroutine.
func (wsp *WebSocketPublisher) Start() error {
	ln, err := net.Listen("tcp", wsp.addr)
	if err != nil {
		return err
	}
	wsp.listener = ln
	wsp.server = &http.Server{
		Handler:           wsp.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wsp.wg.Add(1)
	go func() {
		defer wsp.wg.Done()
		applog.Infof("WebSocketPublisher: Serving on %s", ln.Addr())
		if err := wsp.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketPublisher: Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (wsp *WebSocketPublisher) Addr() net.Addr {
	if wsp.listener == nil {
		return nil
	}
	return wsp.listener.Addr()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wsp *WebSocketPublisher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsp.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketPublisher: Upgrade error: %v", err)
		return
	}

	wsp.clientsMu.Lock()
	wsp.clients[conn] = true
	total := len(wsp.clients)
	wsp.clientsMu.Unlock()
	applog.Infof("WebSocketPublisher: Client connected, total: %d", total)

	// Reads only detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wsp.removeClient(conn)
				return
			}
		}
	}()
}

func (wsp *WebSocketPublisher) removeClient(conn *websocket.Conn) {
	wsp.clientsMu.Lock()
	if !wsp.clients[conn] {
		wsp.clientsMu.Unlock()
		return
	}
	delete(wsp.clients, conn)
	total := len(wsp.clients)
	wsp.clientsMu.Unlock()
	conn.Close()
	applog.Infof("WebSocketPublisher: Client disconnected, total: %d", total)
}

// Clients returns the number of connected clients.
func (wsp *WebSocketPublisher) Clients() int {
	wsp.clientsMu.Lock()
	defer wsp.clientsMu.Unlock()
	return len(wsp.clients)
}

// handleBroadcasts sends queued frames to all connected clients
func (wsp *WebSocketPublisher) handleBroadcasts() {
	defer wsp.wg.Done()
	for frame := range wsp.broadcast {
		wsp.clientsMu.Lock()
		conns := make([]*websocket.Conn, 0, len(wsp.clients))
		for c := range wsp.clients {
			conns = append(conns, c)
		}
		wsp.clientsMu.Unlock()

		for _, c := range conns {
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(frame); err != nil {
				applog.Warnf("WebSocketPublisher: Error sending to client: %v", err)
				wsp.removeClient(c)
			}
		}
	}
}

// Send queues a copy of the frame for broadcast. A full queue drops the frame
// and returns ErrQueueFull.
func (wsp *WebSocketPublisher) Send(f Frame) error {
	wsp.sendMu.RLock()
	defer wsp.sendMu.RUnlock()
	if wsp.closed {
		return ErrClosed
	}

	f.Magnitudes = append([]float64(nil), f.Magnitudes...)
	select {
	case wsp.broadcast <- f:
		return nil
	default:
		wsp.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns the number of frames dropped on a full queue.
func (wsp *WebSocketPublisher) Dropped() uint64 {
	return wsp.dropped.Load()
}

var (
	// ErrQueueFull is returned by Send when clients cannot keep up.
	ErrQueueFull = errors.New("transport: broadcast queue full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: publisher closed")
)

// Close shuts down the server, disconnects all clients and stops the
// broadcast goroutine. It is safe to call Close multiple times.
func (wsp *WebSocketPublisher) Close() error {
	var err error
	wsp.closeOnce.Do(func() {
		applog.Infof("WebSocketPublisher: Closing")
		if wsp.server != nil {
			err = wsp.server.Close()
		}

		wsp.clientsMu.Lock()
		for client := range wsp.clients {
			client.Close()
		}
		wsp.clients = make(map[*websocket.Conn]bool)
		wsp.clientsMu.Unlock()

		wsp.sendMu.Lock()
		wsp.closed = true
		close(wsp.broadcast)
		wsp.sendMu.Unlock()
		wsp.wg.Wait()
	})
	return err
}

// Ensure WebSocketPublisher satisfies the interface
var _ Publisher = (*WebSocketPublisher)(nil)
