package peer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	transport "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/streamcast/signal-relay/internal/signaling"
)

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// SignalURL is the relay's websocket endpoint, e.g.
	// ws://host:8080/signal.
	SignalURL string

	// Tracks are published to every viewer. At least one is required.
	Tracks []webrtc.TrackLocal

	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	// Net overrides the network stack used for ICE; nil uses the host
	// network.
	Net transport.Net
}

// Broadcaster registers as the relay's streamer and maintains one
// PeerConnection per viewer, offering its tracks to each viewer the relay
// announces.
type Broadcaster struct {
	cfg BroadcasterConfig
	log *slog.Logger
	api *webrtc.API

	signal *signalClient
	id     string

	mu      sync.Mutex
	viewers map[string]*webrtc.PeerConnection
}

func NewBroadcaster(cfg BroadcasterConfig) (*Broadcaster, error) {
	if len(cfg.Tracks) == 0 {
		return nil, fmt.Errorf("broadcaster requires at least one track")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	api, err := newAPI(cfg.Net)
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}
	return &Broadcaster{
		cfg:     cfg,
		log:     cfg.Logger,
		api:     api,
		viewers: make(map[string]*webrtc.PeerConnection),
	}, nil
}

// Run connects, registers as streamer, and serves viewers until ctx is
// cancelled or the signaling connection fails. On return the broadcast is
// torn down.
func (b *Broadcaster) Run(ctx context.Context) error {
	signal, err := dialSignal(ctx, b.cfg.SignalURL)
	if err != nil {
		return err
	}
	b.signal = signal
	defer b.teardown()

	ack, err := signal.register(signaling.MessageTypeRegisterStreamer)
	if err != nil {
		return err
	}
	b.id = ack.ClientID
	b.log.Info("broadcasting", "client_id", b.id)

	stop := context.AfterFunc(ctx, signal.Close)
	defer stop()

	for {
		msg, err := signal.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling connection lost: %w", err)
		}
		b.handle(msg)
	}
}

// ClientID returns the relay-assigned identity, empty before registration.
func (b *Broadcaster) ClientID() string { return b.id }

// ViewerCount reports the number of viewer peer connections.
func (b *Broadcaster) ViewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}

// Stop ends the broadcast but keeps the signaling connection open, so the
// same Broadcaster session could register again.
func (b *Broadcaster) Stop() error {
	if err := b.signal.Send(signaling.Message{Type: signaling.MessageTypeStopStream}); err != nil {
		return err
	}
	b.closeViewers()
	return nil
}

func (b *Broadcaster) handle(msg signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeViewerJoined:
		if err := b.offerTo(msg.ViewerID); err != nil {
			b.log.Warn("offer to viewer failed", "viewer_id", msg.ViewerID, "err", err)
		}
	case signaling.MessageTypeAnswer:
		pc, ok := b.viewer(msg.From)
		if !ok || msg.Answer == nil {
			return
		}
		if err := pc.SetRemoteDescription(msg.Answer.ToPion()); err != nil {
			b.log.Warn("set remote answer failed", "viewer_id", msg.From, "err", err)
		}
	case signaling.MessageTypeICECandidate:
		pc, ok := b.viewer(msg.From)
		if !ok || msg.Candidate == nil {
			return
		}
		if err := pc.AddICECandidate(msg.Candidate.ToPion()); err != nil {
			b.log.Debug("add ice candidate failed", "viewer_id", msg.From, "err", err)
		}
	case signaling.MessageTypeError:
		b.log.Warn("relay error", "message", msg.Message)
	}
}

func (b *Broadcaster) offerTo(viewerID string) error {
	pc, err := b.api.NewPeerConnection(webrtc.Configuration{ICEServers: b.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	for _, track := range b.cfg.Tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return fmt.Errorf("add track: %w", err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := signaling.CandidateFromPion(c.ToJSON())
		err := b.signal.Send(signaling.Message{
			Type:      signaling.MessageTypeICECandidate,
			To:        viewerID,
			Candidate: &cand,
		})
		if err != nil {
			b.log.Debug("send ice candidate failed", "viewer_id", viewerID, "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			b.removeViewer(viewerID)
		}
	})

	b.mu.Lock()
	b.viewers[viewerID] = pc
	b.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		b.removeViewer(viewerID)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		b.removeViewer(viewerID)
		return fmt.Errorf("set local offer: %w", err)
	}

	sdp := signaling.SDPFromPion(offer)
	if err := b.signal.Send(signaling.Message{
		Type:  signaling.MessageTypeOffer,
		To:    viewerID,
		Offer: &sdp,
	}); err != nil {
		b.removeViewer(viewerID)
		return fmt.Errorf("send offer: %w", err)
	}
	b.log.Info("offered stream", "viewer_id", viewerID)
	return nil
}

func (b *Broadcaster) viewer(id string) (*webrtc.PeerConnection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pc, ok := b.viewers[id]
	return pc, ok
}

func (b *Broadcaster) removeViewer(id string) {
	b.mu.Lock()
	pc, ok := b.viewers[id]
	delete(b.viewers, id)
	b.mu.Unlock()
	if ok {
		pc.Close()
	}
}

func (b *Broadcaster) closeViewers() {
	b.mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(b.viewers))
	for _, pc := range b.viewers {
		pcs = append(pcs, pc)
	}
	b.viewers = make(map[string]*webrtc.PeerConnection)
	b.mu.Unlock()
	for _, pc := range pcs {
		pc.Close()
	}
}

func (b *Broadcaster) teardown() {
	b.closeViewers()
	b.signal.Close()
}

// drainRTCP discards inbound RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
