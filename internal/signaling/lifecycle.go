package signaling

import (
	"log/slog"
	"sync"

	"github.com/streamcast/signal-relay/internal/metrics"
)

// Lifecycle drives the broadcast state machine: idle when no streamer is
// registered, live while one is. It owns every transition's side effects
// (acknowledgements and fan-outs) and serializes them so a viewer's
// acknowledgement is always enqueued before any lifecycle notification that
// follows it. All sends are channel enqueues, so holding the lock across them
// is safe.
type Lifecycle struct {
	mu      sync.Mutex
	reg     *Registry
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewLifecycle(reg *Registry, log *slog.Logger, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{reg: reg, log: log, metrics: m}
}

// RegisterStreamer installs id as the broadcaster, acknowledges it, and fans
// stream-available out to every registered viewer. While another broadcast is
// live it returns ErrStreamerActive and the caller's connection stays open
// and unregistered.
func (lc *Lifecycle) RegisterStreamer(id string, conn Conn) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	viewers, err := lc.reg.SetStreamer(id, conn)
	if err != nil {
		return err
	}
	lc.metrics.Inc(metrics.StreamerRegistered)
	conn.Send(Message{
		Type:     MessageTypeRegistered,
		Role:     RoleStreamer,
		ClientID: id,
	})
	lc.fanOut(viewers, Message{Type: MessageTypeStreamAvailable}, metrics.StreamAvailable)
	lc.log.Info("streamer registered", "client_id", id, "viewers", len(viewers))
	return nil
}

// RegisterViewer adds a viewer and acknowledges it with the broadcast state
// observed atomically with the insertion.
func (lc *Lifecycle) RegisterViewer(id string, conn Conn) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	available, err := lc.reg.RegisterViewer(id, conn)
	if err != nil {
		return err
	}
	lc.metrics.Inc(metrics.ViewerRegistered)
	conn.Send(Message{
		Type:            MessageTypeRegistered,
		Role:            RoleViewer,
		ClientID:        id,
		StreamAvailable: boolPtr(available),
	})
	lc.log.Info("viewer registered", "client_id", id, "stream_available", available)
	return nil
}

// StopStream ends the broadcast without closing the streamer's connection.
// The streamer's registration is dropped, so it must register again before
// broadcasting. Reports false when id is not the live broadcaster.
func (lc *Lifecycle) StopStream(id string) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	remaining, ok := lc.reg.ClearStreamer(id)
	if !ok {
		return false
	}
	lc.fanOut(remaining, Message{Type: MessageTypeStreamEnded}, metrics.StreamEnded)
	lc.log.Info("stream stopped", "client_id", id, "notified", len(remaining))
	return true
}

// Disconnect removes id from the registry. When id was the broadcaster,
// every remaining connection is told the stream ended. Safe to call for
// identities that never registered.
func (lc *Lifecycle) Disconnect(id string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	remaining, wasStreamer := lc.reg.ClearStreamer(id)
	if !wasStreamer {
		lc.reg.Remove(id)
		return
	}
	lc.fanOut(remaining, Message{Type: MessageTypeStreamEnded}, metrics.StreamEnded)
	lc.log.Info("streamer disconnected", "client_id", id, "notified", len(remaining))
}

func (lc *Lifecycle) fanOut(conns []Conn, msg Message, event string) {
	for _, conn := range conns {
		if conn.Send(msg) {
			lc.metrics.Inc(event)
		}
	}
}
