package metrics

import "sync"

// Event names counted by the signaling server.
const (
	StreamerRegistered = "streamer_registered"
	StreamerRejected   = "streamer_rejected"
	ViewerRegistered   = "viewer_registered"
	StreamAvailable    = "stream_available_fanout"
	StreamEnded        = "stream_ended_fanout"
	ForwardOffer       = "forward_offer"
	ForwardAnswer      = "forward_answer"
	ForwardCandidate   = "forward_candidate"
	ViewerJoined       = "viewer_joined"
	DropUnroutable     = "drop_unroutable"
	DropRateLimited    = "drop_rate_limited"
	ProtocolError      = "protocol_error"
	SlowClientClosed   = "slow_client_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type keeps the routing logic testable while still being scrapeable via
// the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters at a single instant.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
