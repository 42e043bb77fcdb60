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

// ViewerConfig configures a Viewer.
type ViewerConfig struct {
	SignalURL string

	// OnTrack is invoked for every remote track once negotiation
	// completes.
	OnTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
	Net        transport.Net
}

// Viewer subscribes to the live broadcast: it registers with the relay,
// requests the stream as soon as one is available, and answers the
// broadcaster's offer.
type Viewer struct {
	cfg ViewerConfig
	log *slog.Logger
	api *webrtc.API

	signal *signalClient
	id     string

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	streamerID string
}

func NewViewer(cfg ViewerConfig) (*Viewer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	api, err := newAPI(cfg.Net)
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}
	return &Viewer{cfg: cfg, log: cfg.Logger, api: api}, nil
}

// Run connects and watches the broadcast until ctx is cancelled or the
// signaling connection fails. It requests the stream immediately when one is
// live and again whenever one becomes available.
func (v *Viewer) Run(ctx context.Context) error {
	signal, err := dialSignal(ctx, v.cfg.SignalURL)
	if err != nil {
		return err
	}
	v.signal = signal
	defer v.teardown()

	ack, err := signal.register(signaling.MessageTypeRegisterViewer)
	if err != nil {
		return err
	}
	v.id = ack.ClientID
	v.log.Info("watching", "client_id", v.id)

	if ack.StreamAvailable != nil && *ack.StreamAvailable {
		if err := v.requestStream(); err != nil {
			return err
		}
	}

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
		if err := v.handle(msg); err != nil {
			return err
		}
	}
}

// ClientID returns the relay-assigned identity, empty before registration.
func (v *Viewer) ClientID() string { return v.id }

func (v *Viewer) handle(msg signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypeStreamAvailable:
		return v.requestStream()

	case signaling.MessageTypeStreamEnded:
		v.closePeer()
		v.log.Info("stream ended")
		return nil

	case signaling.MessageTypeOffer:
		if msg.Offer == nil {
			return nil
		}
		if err := v.answerOffer(msg.From, *msg.Offer); err != nil {
			v.log.Warn("answering offer failed", "err", err)
		}
		return nil

	case signaling.MessageTypeICECandidate:
		v.mu.Lock()
		pc := v.pc
		v.mu.Unlock()
		if pc == nil || msg.Candidate == nil {
			return nil
		}
		if err := pc.AddICECandidate(msg.Candidate.ToPion()); err != nil {
			v.log.Debug("add ice candidate failed", "err", err)
		}
		return nil

	case signaling.MessageTypeError:
		// "No streamer available" just means we raced a departing
		// broadcaster; stream-available will retrigger the request.
		v.log.Warn("relay error", "message", msg.Message)
		return nil

	default:
		return nil
	}
}

func (v *Viewer) requestStream() error {
	return v.signal.Send(signaling.Message{Type: signaling.MessageTypeRequestStream})
}

func (v *Viewer) answerOffer(streamerID string, offer signaling.SDP) error {
	v.closePeer()

	pc, err := v.api.NewPeerConnection(webrtc.Configuration{ICEServers: v.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	if v.cfg.OnTrack != nil {
		pc.OnTrack(v.cfg.OnTrack)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := signaling.CandidateFromPion(c.ToJSON())
		err := v.signal.Send(signaling.Message{
			Type:      signaling.MessageTypeICECandidate,
			To:        streamerID,
			Candidate: &cand,
		})
		if err != nil {
			v.log.Debug("send ice candidate failed", "err", err)
		}
	})

	if err := pc.SetRemoteDescription(offer.ToPion()); err != nil {
		pc.Close()
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("set local answer: %w", err)
	}

	v.mu.Lock()
	v.pc = pc
	v.streamerID = streamerID
	v.mu.Unlock()

	sdp := signaling.SDPFromPion(answer)
	if err := v.signal.Send(signaling.Message{
		Type:   signaling.MessageTypeAnswer,
		To:     streamerID,
		Answer: &sdp,
	}); err != nil {
		v.closePeer()
		return fmt.Errorf("send answer: %w", err)
	}
	v.log.Info("answered offer", "streamer_id", streamerID)
	return nil
}

func (v *Viewer) closePeer() {
	v.mu.Lock()
	pc := v.pc
	v.pc = nil
	v.streamerID = ""
	v.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

func (v *Viewer) teardown() {
	v.closePeer()
	v.signal.Close()
}
