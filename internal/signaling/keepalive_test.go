package signaling

import (
	"testing"
	"time"
)

func TestKeepaliveResponsiveClientStaysConnected(t *testing.T) {
	_, ts := newTestServer(t, Config{
		WSIdleTimeout:  300 * time.Millisecond,
		WSPingInterval: 100 * time.Millisecond,
	})

	conn := dialSignal(t, ts)
	registerViewer(t, conn)

	// The dialer's default ping handler answers server pings, so reading
	// for several idle periods must not surface a close.
	deadline := time.Now().Add(time.Second)
	_ = conn.SetReadDeadline(deadline)
	var msg Message
	err := conn.ReadJSON(&msg)
	if err == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); !ok || !netErr.Timeout() {
		t.Fatalf("read error = %v, want local timeout (connection alive)", err)
	}
}

func TestKeepaliveIdleClientDisconnected(t *testing.T) {
	_, ts := newTestServer(t, Config{
		WSIdleTimeout:  200 * time.Millisecond,
		WSPingInterval: time.Minute, // pongs never solicited
	})

	conn := dialSignal(t, ts)
	conn.SetPingHandler(func(string) error { return nil }) // swallow pings

	registerViewer(t, conn)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg Message
	err := conn.ReadJSON(&msg)
	if err == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		t.Fatal("server kept an idle, unresponsive client connected")
	}
}
