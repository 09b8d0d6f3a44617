// Package registry implements the master-side slave registry (C2): a
// concurrency-safe map from slave-id to connection state, with the
// eviction-on-replace semantics the tunnel fabric depends on.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status values for a Slave record.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// CloseReplaced is the WebSocket close code sent to a connection
// that is being evicted because a new one authenticated with the
// same slave-id.
const CloseReplaced = 4004

// Slave is the registry's view of one connected slave. Fields are
// read-only snapshots once returned from List/Get; callers must not
// mutate Conn or Status directly — go through the registry's methods.
type Slave struct {
	ID           string
	Name         string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastPingAt   time.Time
	Status       string
}

// Registry owns the slave-id -> Slave mapping. Zero value is not
// usable; construct with New.
type Registry struct {
	mu     sync.Mutex
	slaves map[string]*Slave
}

func New() *Registry {
	return &Registry{slaves: make(map[string]*Slave)}
}

// Register installs a new Slave record for id, closing and replacing
// any previous control connection for the same id with close code
// 4004. The previous connection is closed with 4004 before the new
// record is installed, so a lookup can never observe the replacement
// record while the old connection is still live. The close itself is
// still attempted outside the critical section, to avoid blocking
// other registry operations on network I/O.
func (r *Registry) Register(id, name string, conn *websocket.Conn) {
	now := time.Now()

	r.mu.Lock()
	prev := r.slaves[id]
	r.mu.Unlock()

	if prev != nil && prev.Conn != nil {
		closeWithCode(prev.Conn, CloseReplaced, "replaced")
	}

	r.mu.Lock()
	r.slaves[id] = &Slave{
		ID:          id,
		Name:        name,
		Conn:        conn,
		ConnectedAt: now,
		LastPingAt:  now,
		Status:      StatusConnected,
	}
	r.mu.Unlock()
}

// Unregister removes the record for id, if present. It does not close
// the connection; callers that evict on disconnect already have the
// connection closing on its own.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slaves, id)
}

// Get returns a copy of the Slave record for id, or ok=false if none
// exists.
func (r *Registry) Get(id string) (Slave, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slaves[id]
	if !ok {
		return Slave{}, false
	}
	return *s, true
}

// List returns an immutable snapshot of all registered slaves.
func (r *Registry) List() []Slave {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Slave, 0, len(r.slaves))
	for _, s := range r.slaves {
		out = append(out, *s)
	}
	return out
}

// IsConnected reports whether id currently has a registered,
// connected record.
func (r *Registry) IsConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slaves[id]
	return ok && s.Status == StatusConnected
}

// Touch updates the last-ping timestamp for id. A touch for an id
// that is no longer registered is a silent no-op.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slaves[id]; ok {
		s.LastPingAt = time.Now()
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	_ = conn.Close()
}
