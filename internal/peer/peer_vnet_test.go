package peer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/streamcast/signal-relay/internal/signaling"
)

// TestBroadcastOverVirtualNetwork runs a full session end to end: a real
// signaling server over localhost websockets, with media negotiation and RTP
// delivery between broadcaster and viewer running on a pion virtual network.
func TestBroadcastOverVirtualNetwork(t *testing.T) {
	if testing.Short() {
		t.Skip("full negotiation is slow")
	}

	const (
		cidr       = "10.0.0.0/24"
		streamerIP = "10.0.0.1"
		viewerIP   = "10.0.0.2"
	)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	streamerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{streamerIP}})
	if err != nil {
		t.Fatalf("new streamer net: %v", err)
	}
	viewerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{viewerIP}})
	if err != nil {
		t.Fatalf("new viewer net: %v", err)
	}
	if err := router.AddNet(streamerNet); err != nil {
		t.Fatalf("add streamer net: %v", err)
	}
	if err := router.AddNet(viewerNet); err != nil {
		t.Fatalf("add viewer net: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	srv := signaling.NewServer(signaling.Config{})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	signalURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "broadcast")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	broadcaster, err := NewBroadcaster(BroadcasterConfig{
		SignalURL: signalURL,
		Tracks:    []webrtc.TrackLocal{track},
		Net:       streamerNet,
	})
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}

	gotTrack := make(chan struct{})
	viewer, err := NewViewer(ViewerConfig{
		SignalURL: signalURL,
		Net:       viewerNet,
		OnTrack: func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
			close(gotTrack)
		},
	})
	if err != nil {
		t.Fatalf("new viewer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- broadcaster.Run(ctx) }()
	go func() { errCh <- viewer.Run(ctx) }()

	// Keep RTP flowing; writes before the track binds are dropped.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		seq := uint16(0)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
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
	}()

	select {
	case <-gotTrack:
	case err := <-errCh:
		t.Fatalf("peer exited early: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for remote track")
	}

	if got := broadcaster.ViewerCount(); got != 1 {
		t.Fatalf("ViewerCount() = %d, want 1", got)
	}

	cancel()
	<-writerDone
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("peer shutdown: %v", err)
		}
	}
}
