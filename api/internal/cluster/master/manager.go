// Package master implements the tunnel manager (C5): the master side
// of the cluster tunnel fabric. It accepts slave control connections
// at /cluster/tunnel, runs the authentication handshake, composes the
// slave registry (C2), request correlator (C3) and WS tunnel
// multiplexer (C4), and exposes forwardHttpRequest/createWsTunnel to
// the HTTP routing layer (C7).
package master

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"kari/api/internal/cluster/correlator"
	"kari/api/internal/cluster/protocol"
	"kari/api/internal/cluster/registry"
	"kari/api/internal/cluster/tunnel"
)

// connState is the authentication state of one in-flight control
// connection, per §4.5's state machine.
type connState int

const (
	stateAwaitingAuth connState = iota
	stateAuthenticated
	stateClosed
)

// ForwardResult is what forwardHttpRequest returns to the HTTP layer.
type ForwardResult struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Manager is the master-side tunnel manager.
type Manager struct {
	secret         string
	authTimeout    time.Duration
	requestTimeout time.Duration

	registry    *registry.Registry
	correlator  *correlator.Correlator
	multiplexer *tunnel.Multiplexer

	logger *slog.Logger

	// writeLocks serializes writes per connection, keyed by slaveId once
	// authenticated. A dedicated mutex per connection avoids a single
	// global lock serializing unrelated slaves' writes.
	writeLocks sync.Map // slaveId -> *sync.Mutex

	// pendingBySlave tracks which request-ids are in flight to which
	// slave, so a lost connection can fail exactly its own requests.
	pendingMu      sync.Mutex
	pendingBySlave map[string]map[string]struct{}
}

func New(secret string, authTimeout, requestTimeout time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		secret:         secret,
		authTimeout:    authTimeout,
		requestTimeout: requestTimeout,
		registry:       registry.New(),
		correlator:     correlator.New(),
		logger:         logger,
		pendingBySlave: make(map[string]map[string]struct{}),
	}
	m.multiplexer = tunnel.New(m.emit, logger)
	return m
}

// Registry exposes the slave registry for the status API (C8).
func (m *Manager) Registry() *registry.Registry { return m.registry }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleControlConnection upgrades an incoming request to a WebSocket
// and runs it through the authentication state machine and frame
// dispatch loop. It blocks until the connection closes.
func (m *Manager) HandleControlConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("control connection upgrade failed", slog.Any("error", err))
		return
	}

	var state atomic.Int32
	state.Store(int32(stateAwaitingAuth))
	var slaveID string

	deadline := time.AfterFunc(m.authTimeout, func() {
		if state.CompareAndSwap(int32(stateAwaitingAuth), int32(stateClosed)) {
			closeWithCode(conn, protocol.CloseAuthTimeout, "authentication timeout")
		}
	})
	defer deadline.Stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		typ, err := protocol.PeekType(raw)
		if err != nil {
			m.logger.Warn("malformed frame dropped", slog.Any("error", err))
			continue
		}

		switch connState(state.Load()) {
		case stateAwaitingAuth:
			if typ != protocol.TypeAuth {
				if state.CompareAndSwap(int32(stateAwaitingAuth), int32(stateClosed)) {
					closeWithCode(conn, protocol.CloseExpectedAuth, "expected auth")
				}
				conn.Close()
				return
			}

			var auth protocol.Auth
			if err := json.Unmarshal(raw, &auth); err != nil {
				m.logger.Warn("malformed auth frame dropped", slog.Any("error", err))
				continue
			}

			if auth.SlaveID == "" || auth.Secret != m.secret {
				if state.CompareAndSwap(int32(stateAwaitingAuth), int32(stateClosed)) {
					closeWithCode(conn, protocol.CloseAuthFailed, "authentication failed")
				}
				conn.Close()
				return
			}

			if !state.CompareAndSwap(int32(stateAwaitingAuth), int32(stateAuthenticated)) {
				// the deadline timer won the race and already closed this
				// connection; stop processing.
				return
			}
			deadline.Stop()
			slaveID = auth.SlaveID
			m.registry.Register(slaveID, auth.SlaveName, conn)
			m.writeLocks.Store(slaveID, &sync.Mutex{})

			if err := m.send(conn, slaveID, protocol.NewAuthSuccess(slaveID)); err != nil {
				m.logger.Warn("failed to send auth_success", slog.Any("error", err))
				state.Store(int32(stateClosed))
				break
			}
			m.logger.Info("slave authenticated", slog.String("slave_id", slaveID))

		case stateAuthenticated:
			m.dispatch(conn, slaveID, typ, raw)
		}
	}

	if connState(state.Load()) == stateAuthenticated {
		// An evicted connection leaves the registry alone: a newer
		// connection for the same slave id already owns the record.
		if s, ok := m.registry.Get(slaveID); ok && s.Conn != conn {
			return
		}
		m.handleDisconnect(slaveID)
	}
}

func (m *Manager) dispatch(conn *websocket.Conn, slaveID, typ string, raw []byte) {
	switch typ {
	case protocol.TypeResponse:
		var resp protocol.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			m.logger.Warn("malformed response frame dropped", slog.Any("error", err))
			return
		}
		m.untrackPending(slaveID, resp.RequestID)
		if resp.Error != "" {
			m.correlator.Complete(resp.RequestID, correlator.Result{Err: fmt.Errorf("%s", resp.Error)})
			return
		}
		m.correlator.Complete(resp.RequestID, correlator.Result{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    resp.Body,
		})

	case protocol.TypeWSData:
		var data protocol.WSData
		if err := json.Unmarshal(raw, &data); err != nil {
			m.logger.Warn("malformed ws_data frame dropped", slog.Any("error", err))
			return
		}
		m.multiplexer.Deliver(data.TunnelID, data.Data)

	case protocol.TypeWSTunnelClosed:
		var closed protocol.WSTunnelClosed
		if err := json.Unmarshal(raw, &closed); err != nil {
			m.logger.Warn("malformed ws_tunnel_closed frame dropped", slog.Any("error", err))
			return
		}
		m.multiplexer.CloseLocal(closed.TunnelID)

	case protocol.TypePing:
		var ping protocol.Ping
		if err := json.Unmarshal(raw, &ping); err != nil {
			m.logger.Warn("malformed ping frame dropped", slog.Any("error", err))
			return
		}
		m.registry.Touch(slaveID)
		if err := m.send(conn, slaveID, protocol.NewPong(ping.Timestamp)); err != nil {
			m.logger.Debug("failed to send pong", slog.Any("error", err))
		}

	case protocol.TypeError:
		var errMsg protocol.Error
		if err := json.Unmarshal(raw, &errMsg); err == nil {
			m.logger.Warn("slave reported error", slog.String("slave_id", slaveID), slog.String("error", errMsg.Error))
			if errMsg.RequestID != "" {
				m.untrackPending(slaveID, errMsg.RequestID)
				m.correlator.Complete(errMsg.RequestID, correlator.Result{Err: fmt.Errorf("%s", errMsg.Error)})
			}
		}

	default:
		m.logger.Debug("unknown frame type ignored", slog.String("type", typ))
	}
}

func (m *Manager) handleDisconnect(slaveID string) {
	m.registry.Unregister(slaveID)
	m.multiplexer.CloseAllForSlave(slaveID)
	m.writeLocks.Delete(slaveID)

	m.pendingMu.Lock()
	ids := make([]string, 0, len(m.pendingBySlave[slaveID]))
	for id := range m.pendingBySlave[slaveID] {
		ids = append(ids, id)
	}
	delete(m.pendingBySlave, slaveID)
	m.pendingMu.Unlock()

	m.correlator.FailAllForSlave(ids, fmt.Errorf("slave disconnected"))
	m.logger.Info("slave disconnected", slog.String("slave_id", slaveID))
}

func (m *Manager) trackPending(slaveID, requestID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pendingBySlave[slaveID] == nil {
		m.pendingBySlave[slaveID] = make(map[string]struct{})
	}
	m.pendingBySlave[slaveID][requestID] = struct{}{}
}

func (m *Manager) untrackPending(slaveID, requestID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if set, ok := m.pendingBySlave[slaveID]; ok {
		delete(set, requestID)
	}
}

// emit satisfies tunnel.Emitter, sending a frame to the named slave's
// control connection.
func (m *Manager) emit(slaveID string, frame any) error {
	s, ok := m.registry.Get(slaveID)
	if !ok {
		return fmt.Errorf("slave %s not connected", slaveID)
	}
	return m.send(s.Conn, slaveID, frame)
}

// send serializes frame and writes it under the per-connection write
// lock, so concurrent producers (ping replies, forwarded requests,
// tunnel frames) never interleave bytes of one message.
func (m *Manager) send(conn *websocket.Conn, slaveID string, frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	lockIface, _ := m.writeLocks.LoadOrStore(slaveID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// ForwardHTTPRequest drains req's body, sanitizes headers, allocates
// a correlation id, emits http_request on the slave's control
// connection, and waits (bounded by requestTimeout) for the matching
// response frame.
func (m *Manager) ForwardHTTPRequest(ctx context.Context, slaveID string, req *http.Request) (*ForwardResult, error) {
	if !m.registry.IsConnected(slaveID) {
		return nil, fmt.Errorf("slave not connected")
	}

	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	headers := sanitizeRequestHeaders(req.Header)

	var bodyPtr *string
	if len(bodyBytes) > 0 {
		s := string(bodyBytes)
		bodyPtr = &s
	}

	requestID, resultCh := m.correlator.Issue(m.requestTimeout)
	m.trackPending(slaveID, requestID)

	frame := protocol.NewHTTPRequest(requestID, req.Method, req.URL.RequestURI(), headers, bodyPtr)
	if err := m.emit(slaveID, frame); err != nil {
		m.untrackPending(slaveID, requestID)
		return nil, err
	}

	select {
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		var body []byte
		if result.Body != nil {
			body = []byte(*result.Body)
		}
		return &ForwardResult{
			Status:  result.Status,
			Headers: sanitizeResponseHeaders(result.Headers),
			Body:    body,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateWSTunnel delegates to the multiplexer, which forwards the
// caller-supplied token to the slave in ws_tunnel_open.
func (m *Manager) CreateWSTunnel(slaveID string, userConn *websocket.Conn, channel, token string) string {
	return m.multiplexer.Open(slaveID, userConn, channel, token)
}

func sanitizeRequestHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if protocol.IsHopByHop(k) {
			continue
		}
		if equalsFold(k, "x-target-slave") {
			continue
		}
		out[k] = v
	}
	return out
}

func sanitizeResponseHeaders(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if protocol.IsHopByHop(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func equalsFold(a, b string) bool {
	return bytes.EqualFold([]byte(a), []byte(b))
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	_ = conn.Close()
}
