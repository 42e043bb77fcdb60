package signaling

import (
	"fmt"
	"log/slog"

	"github.com/streamcast/signal-relay/internal/metrics"
)

// Router dispatches one parsed inbound message to its effect: registration
// messages go to the Lifecycle, negotiation messages are forwarded to the
// addressed peer with the sender's identity stamped on. Dispatch never
// performs blocking I/O; delivery is a channel enqueue on the recipient.
type Router struct {
	reg     *Registry
	lc      *Lifecycle
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(reg *Registry, lc *Lifecycle, log *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{reg: reg, lc: lc, log: log, metrics: m}
}

// Dispatch handles one message from senderID. A non-nil return means the
// sender's connection must be closed; recoverable protocol problems are
// answered on the sender's connection instead.
func (rt *Router) Dispatch(senderID string, sender Conn, msg Message) error {
	switch msg.Type {
	case MessageTypeRegisterStreamer:
		err := rt.lc.RegisterStreamer(senderID, sender)
		switch err {
		case nil:
			return nil
		case ErrStreamerActive:
			rt.metrics.Inc(metrics.StreamerRejected)
			sender.Send(errorMessage("Streamer already registered"))
			rt.log.Warn("streamer registration rejected", "client_id", senderID)
			return nil
		default:
			sender.Send(errorMessage("Failed to process message"))
			return fmt.Errorf("register streamer %s: %w", senderID, err)
		}

	case MessageTypeRegisterViewer:
		if err := rt.lc.RegisterViewer(senderID, sender); err != nil {
			sender.Send(errorMessage("Failed to process message"))
			return fmt.Errorf("register viewer %s: %w", senderID, err)
		}
		return nil

	case MessageTypeRequestStream:
		streamerID, streamer, ok := rt.reg.Streamer()
		if !ok {
			sender.Send(errorMessage("No streamer available"))
			return nil
		}
		rt.metrics.Inc(metrics.ViewerJoined)
		rt.send(streamerID, streamer, Message{
			Type:     MessageTypeViewerJoined,
			ViewerID: senderID,
		})
		return nil

	case MessageTypeStopStream:
		if !rt.lc.StopStream(senderID) {
			rt.log.Debug("stop-stream from non-streamer ignored", "client_id", senderID)
		}
		return nil

	case MessageTypeOffer:
		rt.forward(senderID, msg, metrics.ForwardOffer, false)
		return nil

	case MessageTypeAnswer:
		// Viewers answer the broadcaster; when "to" is absent or stale
		// the answer still belongs to whoever is live now.
		rt.forward(senderID, msg, metrics.ForwardAnswer, true)
		return nil

	case MessageTypeICECandidate:
		rt.forward(senderID, msg, metrics.ForwardCandidate, false)
		return nil

	default:
		// validateInbound filters these out; kept so Dispatch is safe on
		// hand-built messages too.
		rt.log.Debug("unhandled message type", "type", string(msg.Type), "client_id", senderID)
		return nil
	}
}

// forward relays msg to msg.To with From overwritten to the sender's
// server-assigned identity. Unroutable messages are dropped silently; the
// recipient may simply have disconnected mid-negotiation.
func (rt *Router) forward(senderID string, msg Message, event string, fallbackToStreamer bool) {
	to, target, ok := rt.resolve(msg.To, fallbackToStreamer)
	if !ok {
		rt.metrics.Inc(metrics.DropUnroutable)
		rt.log.Debug("dropped unroutable message",
			"type", string(msg.Type), "from", senderID, "to", msg.To)
		return
	}
	msg.To = ""
	msg.From = senderID
	rt.metrics.Inc(event)
	rt.send(to, target, msg)
}

func (rt *Router) resolve(to string, fallbackToStreamer bool) (string, Conn, bool) {
	if to != "" {
		if conn, ok := rt.reg.Lookup(to); ok {
			return to, conn, true
		}
	}
	if fallbackToStreamer {
		return rt.reg.Streamer()
	}
	return "", nil, false
}

func (rt *Router) send(id string, conn Conn, msg Message) {
	if !conn.Send(msg) {
		rt.log.Warn("dropped message for slow or closed client",
			"type", string(msg.Type), "client_id", id)
	}
}
