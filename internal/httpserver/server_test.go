package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamcast/signal-relay/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	cfg, err := config.Load(args)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestHealthz(t *testing.T) {
	s := New(testConfig(t), testLogger(), BuildInfo{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzBeforeServe(t *testing.T) {
	s := New(testConfig(t), testLogger(), BuildInfo{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before Serve", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s := New(testConfig(t), testLogger(), BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Commit != "abc123" {
		t.Fatalf("commit = %q", got.Commit)
	}
}

func TestICEEndpointServesConfiguredServers(t *testing.T) {
	cfg := testConfig(t, "--stun-urls", "stun:stun.example.com:3478")
	s := New(cfg, testLogger(), BuildInfo{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/webrtc/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected ice servers: %+v", body.ICEServers)
	}
}

func TestICEEndpointOriginPolicy(t *testing.T) {
	cfg := testConfig(t, "--allowed-origins", "https://stream.example.com")
	s := New(cfg, testLogger(), BuildInfo{})

	req := httptest.NewRequest("GET", "/webrtc/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for disallowed origin", rec.Code)
	}

	req = httptest.NewRequest("GET", "/webrtc/ice", nil)
	req.Header.Set("Origin", "https://stream.example.com")
	rec = httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for allowed origin", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://stream.example.com" {
		t.Fatalf("ACAO = %q", got)
	}
}

func TestCheckRequestOrigin(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "no header", origin: "", allowed: []string{"https://a.example"}, want: true},
		{name: "empty allowlist", origin: "https://anything.example", want: true},
		{name: "match", origin: "https://a.example", allowed: []string{"https://a.example"}, want: true},
		{name: "case-insensitive host", origin: "https://A.Example", allowed: []string{"https://a.example"}, want: true},
		{name: "mismatch", origin: "https://b.example", allowed: []string{"https://a.example"}, want: false},
		{name: "garbage origin", origin: "::not-a-url::", allowed: []string{"https://a.example"}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/signal", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := CheckRequestOrigin(req, tc.allowed); got != tc.want {
				t.Fatalf("CheckRequestOrigin = %v, want %v", got, tc.want)
			}
		})
	}
}
