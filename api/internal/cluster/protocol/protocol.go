// Package protocol defines the wire messages carried over the single
// persistent WebSocket control connection between a master and each of
// its slaves. Every frame is a JSON object with a discriminating `type`
// field; unknown types are logged and ignored rather than treated as a
// protocol violation, so the master and slave binaries can evolve
// independently.
package protocol

import "encoding/json"

// Message type discriminators. Direction is documented per constant.
const (
	// TypeAuth is sent slave -> master as the first frame on a new
	// control connection.
	TypeAuth = "auth"
	// TypeAuthSuccess is sent master -> slave once the handshake
	// completes and the slave has been registered.
	TypeAuthSuccess = "auth_success"
	// TypeHTTPRequest is sent master -> slave to forward a single
	// HTTP request to the slave's local service.
	TypeHTTPRequest = "http_request"
	// TypeResponse is sent slave -> master carrying the result of a
	// previously forwarded http_request.
	TypeResponse = "response"
	// TypeWSTunnelOpen is sent master -> slave to ask it to dial a
	// local WebSocket on behalf of a newly opened user tunnel.
	TypeWSTunnelOpen = "ws_tunnel_open"
	// TypeWSMessage is sent master -> slave carrying a frame received
	// from the user-side WebSocket of an open tunnel.
	TypeWSMessage = "ws_message"
	// TypeWSData is sent slave -> master carrying a frame received
	// from the slave's local WebSocket of an open tunnel.
	TypeWSData = "ws_data"
	// TypeWSTunnelClose is sent master -> slave to ask it to close
	// its local end of a tunnel.
	TypeWSTunnelClose = "ws_tunnel_close"
	// TypeWSTunnelClosed is sent slave -> master to report that the
	// slave's local end of a tunnel has closed.
	TypeWSTunnelClosed = "ws_tunnel_closed"
	// TypePing is sent slave -> master as an application-level
	// heartbeat, independent of the WebSocket control-frame ping.
	TypePing = "ping"
	// TypePong is sent master -> slave in reply to TypePing.
	TypePong = "pong"
	// TypeError is sent slave -> master to report a failure that
	// could not be attached to a response or ws_data frame.
	TypeError = "error"
)

// Channel names for ws_tunnel_open, mapping to local paths /ws and
// /shell respectively on the slave's local service.
const (
	ChannelWS    = "ws"
	ChannelShell = "shell"
)

// Close codes used on /cluster/tunnel. They occupy the private-use
// range reserved by RFC 6455 (4000-4999).
const (
	CloseAuthTimeout  = 4001
	CloseAuthFailed   = 4002
	CloseExpectedAuth = 4003
	CloseReplaced     = 4004
)

// HopByHopHeaders lists the header names stripped before a request is
// forwarded to a slave, and before a slave's response is relayed back
// to the user. Comparisons are case-insensitive; store and compare in
// lower case.
var HopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// Envelope is the minimal shape every frame shares: enough to decide
// how to decode the rest of the message.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is slave -> master, the first and only frame expected while a
// connection is awaiting authentication.
type Auth struct {
	Type     string `json:"type"`
	SlaveID  string `json:"slaveId"`
	SlaveName string `json:"slaveName"`
	Secret   string `json:"secret"`
}

func NewAuth(slaveID, slaveName, secret string) Auth {
	return Auth{Type: TypeAuth, SlaveID: slaveID, SlaveName: slaveName, Secret: secret}
}

// AuthSuccess is master -> slave, confirming registration.
type AuthSuccess struct {
	Type    string `json:"type"`
	SlaveID string `json:"slaveId"`
}

func NewAuthSuccess(slaveID string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, SlaveID: slaveID}
}

// HTTPRequest is master -> slave.
type HTTPRequest struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Headers   map[string][]string `json:"headers"`
	Body      *string             `json:"body"`
}

func NewHTTPRequest(requestID, method, path string, headers map[string][]string, body *string) HTTPRequest {
	return HTTPRequest{
		Type:      TypeHTTPRequest,
		RequestID: requestID,
		Method:    method,
		Path:      path,
		Headers:   headers,
		Body:      body,
	}
}

// Response is slave -> master, the reply to a single HTTPRequest.
type Response struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId"`
	Status    int                 `json:"status,omitempty"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Body      *string             `json:"body,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func NewResponse(requestID string, status int, headers map[string][]string, body *string) Response {
	return Response{Type: TypeResponse, RequestID: requestID, Status: status, Headers: headers, Body: body}
}

func NewResponseError(requestID, errMsg string) Response {
	return Response{Type: TypeResponse, RequestID: requestID, Error: errMsg}
}

// WSTunnelOpen is master -> slave, asking it to dial a local WebSocket
// for a newly allocated tunnel.
type WSTunnelOpen struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
	Channel  string `json:"channel"`
	Token    string `json:"token"`
}

func NewWSTunnelOpen(tunnelID, channel, token string) WSTunnelOpen {
	return WSTunnelOpen{Type: TypeWSTunnelOpen, TunnelID: tunnelID, Channel: channel, Token: token}
}

// WSMessage is master -> slave, a frame from the user-side WebSocket.
type WSMessage struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
	Data     string `json:"data"`
}

func NewWSMessage(tunnelID, data string) WSMessage {
	return WSMessage{Type: TypeWSMessage, TunnelID: tunnelID, Data: data}
}

// WSData is slave -> master, a frame from the slave's local WebSocket.
type WSData struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
	Data     string `json:"data"`
}

func NewWSData(tunnelID, data string) WSData {
	return WSData{Type: TypeWSData, TunnelID: tunnelID, Data: data}
}

// WSTunnelClose is master -> slave, asking it to close its local end.
type WSTunnelClose struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
}

func NewWSTunnelClose(tunnelID string) WSTunnelClose {
	return WSTunnelClose{Type: TypeWSTunnelClose, TunnelID: tunnelID}
}

// WSTunnelClosed is slave -> master, reporting the local end closed.
type WSTunnelClosed struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
}

func NewWSTunnelClosed(tunnelID string) WSTunnelClosed {
	return WSTunnelClosed{Type: TypeWSTunnelClosed, TunnelID: tunnelID}
}

// Ping is slave -> master, an application-level heartbeat.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPing(timestamp int64) Ping {
	return Ping{Type: TypePing, Timestamp: timestamp}
}

// Pong is master -> slave, the reply to Ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPong(timestamp int64) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp}
}

// Error is slave -> master, reporting a failure not tied to a
// response or ws_data frame (e.g. a local dial failure before a
// request-id or tunnel-id could be attached).
type Error struct {
	Type      string `json:"type"`
	TunnelID  string `json:"tunnelId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
}

func NewError(errMsg string) Error {
	return Error{Type: TypeError, Error: errMsg}
}

// PeekType decodes only the `type` discriminator out of a raw frame,
// without committing to a concrete message shape. Callers use it to
// dispatch to the right typed Unmarshal.
func PeekType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// IsHopByHop reports whether header (any case) must be stripped
// before an http_request frame is emitted, or before a response is
// relayed back to the user. The routing header x-target-slave is
// handled separately by callers, since it is only stripped on the
// request path.
func IsHopByHop(header string) bool {
	_, ok := HopByHopHeaders[lower(header)]
	return ok
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
