// Command broadcaster-go is a headless broadcast source for end-to-end
// tests: it registers with a running relay, publishes a synthetic VP8 RTP
// track, and prints READY once registered. It is not part of the production
// deployment.
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
	"syscall"
	"time"

	"github.com/pion/rtp"
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

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "e2e-broadcast")
	if err != nil {
		fmt.Fprintf(os.Stderr, "new track: %v\n", err)
		os.Exit(1)
	}

	broadcaster, err := peer.NewBroadcaster(peer.BroadcasterConfig{
		SignalURL:  signalURL(baseURL),
		Tracks:     []webrtc.TrackLocal{track},
		ICEServers: iceServers,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new broadcaster: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go writeTestPattern(ctx, track)

	fmt.Println("READY")
	if err := broadcaster.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "broadcaster: %v\n", err)
		os.Exit(1)
	}
}

// writeTestPattern emits a minimal RTP stream; payloads are not decodable
// video, only enough to traverse the pipeline.
func writeTestPattern(ctx context.Context, track *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	seq := uint16(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 3000,
				SSRC:           0x1234,
			},
			Payload: []byte{0x90, 0x00, 0x00, 0x00},
		}
		if err := track.WriteRTP(pkt); err != nil {
			return
		}
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
