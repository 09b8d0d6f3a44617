// Package tunnel implements the master-side WebSocket tunnel
// multiplexer (C4): it maps a tunnel-id to a user-facing WebSocket
// connection, relays inbound user frames onto the slave's control
// connection as ws_message frames, and relays ws_data frames arriving
// from the slave back out to the user. A tunnel record is owned
// exclusively by this package; the user WebSocket itself belongs to
// the HTTP server layer and is released (never closed twice) when the
// tunnel is torn down.
package tunnel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kari/api/internal/cluster/protocol"
)

// Emitter sends a frame on the control connection owned by slaveId.
// The master's tunnel manager supplies this so the multiplexer never
// needs to know about the registry or connection locking directly.
type Emitter func(slaveID string, frame any) error

// writeBufferSize bounds how many pending frames may queue for a
// user-side WebSocket before back-pressure kicks in and the tunnel is
// torn down, per the "no unbounded queuing" rule in the spec's
// concurrency model.
const writeBufferSize = 32

// Record is an open tunnel. SlaveID is a lookup relation, not
// ownership — the registry is still the source of truth for whether
// that slave is connected.
type Record struct {
	ID      string
	SlaveID string
	Channel string

	userConn *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closeOnce sync.Once
}

// Multiplexer owns the tunnel-id -> Record map.
type Multiplexer struct {
	mu      sync.Mutex
	tunnels map[string]*Record
	emit    Emitter
	logger  *slog.Logger
}

func New(emit Emitter, logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		tunnels: make(map[string]*Record),
		emit:    emit,
		logger:  logger,
	}
}

// Open registers a new tunnel, emits ws_tunnel_open on the slave's
// control connection, and starts a writer goroutine plus a reader
// goroutine that pumps frames from userConn into ws_message frames.
// It returns the freshly minted tunnel-id.
func (m *Multiplexer) Open(slaveID string, userConn *websocket.Conn, channel, token string) string {
	id := uuid.NewString()
	rec := &Record{
		ID:       id,
		SlaveID:  slaveID,
		Channel:  channel,
		userConn: userConn,
		send:     make(chan []byte, writeBufferSize),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.tunnels[id] = rec
	m.mu.Unlock()

	if err := m.emit(slaveID, protocol.NewWSTunnelOpen(id, channel, token)); err != nil {
		m.logger.Warn("failed to emit ws_tunnel_open", slog.String("tunnel_id", id), slog.Any("error", err))
	}

	go m.writeLoop(rec)
	go m.readLoop(rec)

	return id
}

// Deliver writes data to the tunnel's user WebSocket if it is still
// open. Back-pressure: if the send buffer is full the tunnel is
// closed rather than growing an unbounded queue.
func (m *Multiplexer) Deliver(tunnelID, data string) {
	m.mu.Lock()
	rec, ok := m.tunnels[tunnelID]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case rec.send <- []byte(data):
	default:
		m.logger.Warn("tunnel send buffer full, closing", slog.String("tunnel_id", tunnelID))
		m.CloseLocal(tunnelID)
	}
}

// CloseLocal closes the user-side WebSocket and removes the record.
// It is safe to call multiple times or concurrently with the read/
// write loops tearing the same record down.
func (m *Multiplexer) CloseLocal(tunnelID string) {
	m.mu.Lock()
	rec, ok := m.tunnels[tunnelID]
	if ok {
		delete(m.tunnels, tunnelID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.shutdown(rec)
}

// CloseAllForSlave tears down every tunnel owned by slaveID, used
// when that slave's control connection is lost. Per the data model's
// invariant, this happens atomically with respect to new Opens for
// the same slave only insofar as the caller (the tunnel manager)
// already unregistered the slave from C2 first.
func (m *Multiplexer) CloseAllForSlave(slaveID string) {
	m.mu.Lock()
	var victims []*Record
	for id, rec := range m.tunnels {
		if rec.SlaveID == slaveID {
			victims = append(victims, rec)
			delete(m.tunnels, id)
		}
	}
	m.mu.Unlock()

	for _, rec := range victims {
		m.shutdown(rec)
	}
}

func (m *Multiplexer) shutdown(rec *Record) {
	rec.closeOnce.Do(func() {
		close(rec.done)
		_ = rec.userConn.Close()
	})
}

// writeLoop is the single writer for this tunnel's user connection,
// serializing frames delivered from the slave so concurrent Delivers
// never interleave bytes of a single WebSocket message.
func (m *Multiplexer) writeLoop(rec *Record) {
	for {
		select {
		case <-rec.done:
			return
		case data := <-rec.send:
			rec.userConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := rec.userConn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.CloseLocal(rec.ID)
				return
			}
		}
	}
}

// readLoop pumps frames from the user WebSocket and emits them as
// ws_message frames on the owning slave's control connection. On any
// read error (including a normal close), it emits ws_tunnel_close and
// tears the record down.
func (m *Multiplexer) readLoop(rec *Record) {
	defer m.CloseLocal(rec.ID)

	for {
		_, data, err := rec.userConn.ReadMessage()
		if err != nil {
			if err := m.emit(rec.SlaveID, protocol.NewWSTunnelClose(rec.ID)); err != nil {
				m.logger.Debug("failed to emit ws_tunnel_close", slog.String("tunnel_id", rec.ID), slog.Any("error", err))
			}
			return
		}

		if err := m.emit(rec.SlaveID, protocol.NewWSMessage(rec.ID, string(data))); err != nil {
			m.logger.Warn("failed to emit ws_message", slog.String("tunnel_id", rec.ID), slog.Any("error", err))
			return
		}
	}
}
