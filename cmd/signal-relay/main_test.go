package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamcast/signal-relay/internal/config"
	"github.com/streamcast/signal-relay/internal/httpserver"
	"github.com/streamcast/signal-relay/internal/metrics"
	"github.com/streamcast/signal-relay/internal/signaling"
)

// Wires the routes the way main does and exercises each surface once.
func TestServerWiring(t *testing.T) {
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: "test"})
	m := metrics.New()
	sig := signaling.NewServer(signaling.Config{
		Logger:  logger,
		Metrics: m,
	})
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(func() {
		sig.Close()
		ts.Close()
	})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(ts.URL, "http")+"/signal", nil)
	if err != nil {
		t.Fatalf("dial signal: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	if err := conn.WriteJSON(signaling.Message{Type: signaling.MessageTypeRegisterViewer}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack signaling.Message
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != signaling.MessageTypeRegistered {
		t.Fatalf("ack = %+v", ack)
	}
	if got := sig.Registry().Len(); got != 1 {
		t.Fatalf("registry has %d connections, want 1", got)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `signal_relay_events_total{event="viewer_registered"} 1`) {
		t.Fatalf("metrics body missing viewer_registered: %s", body)
	}
}
