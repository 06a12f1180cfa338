package dev

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ReloadPath is the dev server endpoint browsers subscribe to.
const ReloadPath = "/__tova_reload"

// heartbeatInterval is how often an SSE comment keeps idle connections
// alive through proxies.
const heartbeatInterval = 15 * time.Second

// ReloadServer manages live-reload subscribers over server-sent events.
// Each successful rebuild emits exactly one "reload" event.
type ReloadServer struct {
	mu      sync.Mutex
	clients map[chan string]bool
	closed  bool
}

// NewReloadServer creates a reload server.
func NewReloadServer() *ReloadServer {
	return &ReloadServer{
		clients: make(map[chan string]bool),
	}
}

// ServeHTTP holds the connection open as a text/event-stream, writing a
// comment heartbeat periodically and an event per rebuild.
func (r *ReloadServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan string, 8)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.clients[events] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, events)
		r.mu.Unlock()
	}()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// NotifyReload emits one reload event to every subscriber.
func (r *ReloadServer) NotifyReload() {
	r.broadcast("reload")
}

func (r *ReloadServer) broadcast(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.clients {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it reconnects and reloads on its own.
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (r *ReloadServer) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close disconnects every subscriber.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for ch := range r.clients {
		close(ch)
		delete(r.clients, ch)
	}
}
