// Command viewer-go is a headless viewer for end-to-end tests: it subscribes
// to the live broadcast and prints TRACK once the first RTP packet arrives.
// It is not part of the production deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/streamcast/signal-relay/internal/peer"
)

func main() {
	baseURL := envOrDefault("RELAY_URL", "http://127.0.0.1:8080")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	iceServers, err := fetchICEServers(baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch ice servers: %v\n", err)
		os.Exit(1)
	}

	var announce sync.Once
	viewer, err := peer.NewViewer(peer.ViewerConfig{
		SignalURL:  signalURL(baseURL),
		ICEServers: iceServers,
		Logger:     logger,
		OnTrack: func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
			announce.Do(func() { fmt.Println("TRACK") })
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new viewer: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("READY")
	if err := viewer.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "viewer: %v\n", err)
		os.Exit(1)
	}
}

func fetchICEServers(baseURL string) ([]webrtc.ICEServer, error) {
	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.ICEServers, nil
}

func signalURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/signal"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
