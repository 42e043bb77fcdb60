package signaling

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateIdentity is returned when a registration reuses an
	// identity that is still connected.
	ErrDuplicateIdentity = errors.New("identity already registered")

	// ErrStreamerActive is returned when a second client attempts to
	// register as streamer while a broadcast is live.
	ErrStreamerActive = errors.New("streamer already registered")
)

// Conn is the send side of a registered connection. Send enqueues a message
// for delivery and must never block: it reports false when the peer is gone
// or too far behind to keep.
type Conn interface {
	Send(msg Message) bool
}

type entry struct {
	conn Conn
	role Role
}

// Registry tracks every registered connection by identity plus the single
// broadcaster slot. All accessors are safe for concurrent use; the compound
// operations (SetStreamer, RegisterViewer, ClearStreamer) take their
// decisions and snapshots under one critical section so callers observe the
// broadcaster slot and the viewer set in a consistent state.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]entry
	streamerID string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// SetStreamer installs id as the broadcaster and returns a snapshot of every
// currently registered viewer connection. It fails with ErrStreamerActive
// while another broadcaster holds the slot, and with ErrDuplicateIdentity if
// the identity is already registered.
func (r *Registry) SetStreamer(id string, conn Conn) ([]Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamerID != "" && r.streamerID != id {
		return nil, ErrStreamerActive
	}
	if _, ok := r.entries[id]; ok {
		return nil, ErrDuplicateIdentity
	}
	r.entries[id] = entry{conn: conn, role: RoleStreamer}
	r.streamerID = id
	return r.viewersLocked(), nil
}

// RegisterViewer adds a viewer and reports, atomically with the insertion,
// whether a broadcast was live at that instant. A viewer therefore either
// sees streamAvailable=true in its acknowledgement or receives the
// stream-available fan-out, never neither.
func (r *Registry) RegisterViewer(id string, conn Conn) (streamAvailable bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false, ErrDuplicateIdentity
	}
	r.entries[id] = entry{conn: conn, role: RoleViewer}
	return r.streamerID != "", nil
}

// Lookup resolves an identity to its connection.
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Streamer returns the live broadcaster, if any.
func (r *Registry) Streamer() (string, Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamerID == "" {
		return "", nil, false
	}
	e, ok := r.entries[r.streamerID]
	if !ok {
		return "", nil, false
	}
	return r.streamerID, e.conn, true
}

// ClearStreamer releases the broadcaster slot if id holds it, removes the
// broadcaster's entry, and returns a snapshot of every other registered
// connection for the stream-ended fan-out. It reports false when id was not
// the broadcaster.
func (r *Registry) ClearStreamer(id string) ([]Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamerID != id {
		return nil, false
	}
	r.streamerID = ""
	delete(r.entries, id)
	remaining := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		remaining = append(remaining, e.conn)
	}
	return remaining, true
}

// Remove deletes id's entry. Removing an unknown identity is a no-op, so
// disconnect cleanup is idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamerID == id {
		r.streamerID = ""
	}
	delete(r.entries, id)
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) viewersLocked() []Conn {
	viewers := make([]Conn, 0, len(r.entries))
	for id, e := range r.entries {
		if e.role == RoleViewer && id != r.streamerID {
			viewers = append(viewers, e.conn)
		}
	}
	return viewers
}
