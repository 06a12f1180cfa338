package dev

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// subscribe connects an SSE client and returns a line reader plus a stop
// function dropping the connection. Callers must defer stop after the
// server's own Close defer, so the subscriber disconnects first and
// httptest.Server.Close does not wait on the open stream.
func subscribe(t *testing.T, server *httptest.Server) (*bufio.Reader, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", server.URL+ReloadPath, nil)
	if err != nil {
		cancel()
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect: %v", err)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		cancel()
		resp.Body.Close()
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

// readEvent skips comments and blank lines until a data line arrives.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitForClients(t *testing.T, rs *ReloadServer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rs.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", rs.ClientCount(), want)
}

func TestReload_NotifyReachesSubscriber(t *testing.T) {
	rs := NewReloadServer()
	server := httptest.NewServer(rs)
	defer server.Close()

	reader, stop := subscribe(t, server)
	defer stop()
	waitForClients(t, rs, 1)

	// The opening comment arrives before any event.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if !strings.HasPrefix(line, ": connected") {
		t.Errorf("greeting = %q, want a connected comment", line)
	}

	rs.NotifyReload()
	if got := readEvent(t, reader); got != "reload" {
		t.Errorf("event = %q, want reload", got)
	}
}

func TestReload_EachNotifyIsOneEvent(t *testing.T) {
	rs := NewReloadServer()
	server := httptest.NewServer(rs)
	defer server.Close()

	reader, stop := subscribe(t, server)
	defer stop()
	waitForClients(t, rs, 1)

	rs.NotifyReload()
	rs.NotifyReload()

	if got := readEvent(t, reader); got != "reload" {
		t.Fatalf("first event = %q", got)
	}
	if got := readEvent(t, reader); got != "reload" {
		t.Fatalf("second event = %q", got)
	}
}

func TestReload_DisconnectDropsClient(t *testing.T) {
	rs := NewReloadServer()
	server := httptest.NewServer(rs)
	defer server.Close()

	_, stop := subscribe(t, server)
	defer stop()
	waitForClients(t, rs, 1)

	stop()
	waitForClients(t, rs, 0)
}

func TestReload_CloseDisconnectsSubscribers(t *testing.T) {
	rs := NewReloadServer()
	server := httptest.NewServer(rs)
	defer server.Close()

	_, stop := subscribe(t, server)
	defer stop()
	waitForClients(t, rs, 1)

	rs.Close()
	waitForClients(t, rs, 0)

	// Notify after close must not panic.
	rs.NotifyReload()
}
