// Package slaveclient implements the tunnel client (C6): the slave
// side of the cluster tunnel fabric. It dials the master's
// /cluster/tunnel endpoint, authenticates, reconnects with
// exponential backoff and jitter on any disconnect, and forwards
// http_request and ws_tunnel_open frames to the slave's local
// service.
package slaveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kari/api/internal/cluster/protocol"
)

// Config holds the slave-side cluster knobs, mirroring config.Config's
// slave fields so this package has no import-time dependency on the
// application's config package.
type Config struct {
	MasterURL          string
	SlaveID            string
	SlaveName          string
	Secret             string
	LocalPort          string
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

const pingInterval = 30 * time.Second
const localCallTimeout = 30 * time.Second

// Client runs the reconnect loop. Construct with New and call Run in
// a goroutine; Run blocks until ctx is cancelled.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	writeMu sync.Mutex

	tunnelsMu sync.Mutex
	tunnels   map[string]*websocket.Conn
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: localCallTimeout},
		tunnels:    make(map[string]*websocket.Conn),
	}
}

// Run drives the indefinite reconnect loop described in §4.6. It
// returns only when ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		authenticated, err := c.runOnce(ctx)
		if err != nil {
			c.logger.Warn("control connection ended", slog.Any("error", err))
		}

		// §4.6 step 4: a connection that reached auth_success resets the
		// backoff counter, even if it later failed. Only a session that
		// never authenticated keeps climbing the backoff curve.
		if authenticated {
			attempt = 0
		}

		delay := BackoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// BackoffDelay computes base*2^attempt capped at max, plus uniform
// jitter in [0, 1s). Exported so tests can check the bound without
// driving the full reconnect loop.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}

// runOnce dials, authenticates, and processes frames until the
// connection closes for any reason. The returned bool reports whether
// auth_success was observed, regardless of how the session ended
// afterward, so Run knows whether to reset its backoff counter.
func (c *Client) runOnce(ctx context.Context) (authenticated bool, err error) {
	wsURL := strings.TrimSuffix(c.cfg.MasterURL, "/") + "/cluster/tunnel"
	wsURL = toWebsocketScheme(wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()

	if err := c.send(conn, protocol.NewAuth(c.cfg.SlaveID, c.cfg.SlaveName, c.cfg.Secret)); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("awaiting auth_success: %w", err)
	}
	typ, err := protocol.PeekType(raw)
	if err != nil || typ != protocol.TypeAuthSuccess {
		return false, fmt.Errorf("authentication rejected by master")
	}

	c.logger.Info("connected to master", slog.String("master_url", c.cfg.MasterURL))

	stopPing := make(chan struct{})
	var pingWg sync.WaitGroup
	pingWg.Add(1)
	go c.pingLoop(conn, stopPing, &pingWg)

	defer func() {
		close(stopPing)
		pingWg.Wait()
		c.closeAllLocalTunnels()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("control connection read: %w", err)
		}

		typ, err := protocol.PeekType(raw)
		if err != nil {
			c.logger.Warn("malformed frame dropped", slog.Any("error", err))
			continue
		}

		c.dispatch(ctx, conn, typ, raw)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.send(conn, protocol.NewPing(time.Now().Unix())); err != nil {
				return
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) dispatch(ctx context.Context, conn *websocket.Conn, typ string, raw []byte) {
	switch typ {
	case protocol.TypeHTTPRequest:
		var req protocol.HTTPRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.logger.Warn("malformed http_request dropped", slog.Any("error", err))
			return
		}
		go c.handleHTTPRequest(ctx, conn, req)

	case protocol.TypeWSTunnelOpen:
		var open protocol.WSTunnelOpen
		if err := json.Unmarshal(raw, &open); err != nil {
			c.logger.Warn("malformed ws_tunnel_open dropped", slog.Any("error", err))
			return
		}
		go c.handleWSTunnelOpen(conn, open)

	case protocol.TypeWSMessage:
		var msg protocol.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("malformed ws_message dropped", slog.Any("error", err))
			return
		}
		c.deliverToLocalTunnel(msg.TunnelID, msg.Data)

	case protocol.TypeWSTunnelClose:
		var closeMsg protocol.WSTunnelClose
		if err := json.Unmarshal(raw, &closeMsg); err != nil {
			c.logger.Warn("malformed ws_tunnel_close dropped", slog.Any("error", err))
			return
		}
		c.closeLocalTunnel(closeMsg.TunnelID)

	case protocol.TypePong:
		// no action

	default:
		c.logger.Debug("unknown frame type ignored", slog.String("type", typ))
	}
}

// handleHTTPRequest performs the local HTTP call described in §4.6
// and replies with a response (or error) frame.
func (c *Client) handleHTTPRequest(ctx context.Context, conn *websocket.Conn, req protocol.HTTPRequest) {
	callCtx, cancel := context.WithTimeout(ctx, localCallTimeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader([]byte(*req.Body))
	}

	target := fmt.Sprintf("http://localhost:%s%s", c.cfg.LocalPort, req.Path)
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, bodyReader)
	if err != nil {
		c.send(conn, protocol.NewResponseError(req.RequestID, err.Error()))
		return
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Host = "localhost:" + c.cfg.LocalPort
	httpReq.Header.Set("Host", httpReq.Host)
	httpReq.Header.Set("x-cluster-internal-auth", c.cfg.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.send(conn, protocol.NewResponseError(req.RequestID, err.Error()))
		return
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.send(conn, protocol.NewResponseError(req.RequestID, err.Error()))
		return
	}

	var bodyPtr *string
	if len(bodyBytes) > 0 {
		s := string(bodyBytes)
		bodyPtr = &s
	}

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		if protocol.IsHopByHop(k) {
			continue
		}
		headers[k] = v
	}

	c.send(conn, protocol.NewResponse(req.RequestID, resp.StatusCode, headers, bodyPtr))
}

// handleWSTunnelOpen dials the local WebSocket endpoint corresponding
// to open.Channel and relays frames in both directions.
func (c *Client) handleWSTunnelOpen(conn *websocket.Conn, open protocol.WSTunnelOpen) {
	path := "/ws"
	if open.Channel == protocol.ChannelShell {
		path = "/shell"
	}

	localURL := fmt.Sprintf("ws://localhost:%s%s?token=%s", c.cfg.LocalPort, path, url.QueryEscape(open.Token))
	localConn, _, err := websocket.DefaultDialer.Dial(localURL, nil)
	if err != nil {
		c.send(conn, protocol.NewError(fmt.Sprintf("failed to dial local service: %v", err)))
		return
	}

	c.tunnelsMu.Lock()
	c.tunnels[open.TunnelID] = localConn
	c.tunnelsMu.Unlock()

	defer func() {
		c.tunnelsMu.Lock()
		delete(c.tunnels, open.TunnelID)
		c.tunnelsMu.Unlock()
		localConn.Close()
	}()

	for {
		_, data, err := localConn.ReadMessage()
		if err != nil {
			c.send(conn, protocol.NewWSTunnelClosed(open.TunnelID))
			return
		}
		if err := c.send(conn, protocol.NewWSData(open.TunnelID, string(data))); err != nil {
			return
		}
	}
}

func (c *Client) deliverToLocalTunnel(tunnelID, data string) {
	c.tunnelsMu.Lock()
	localConn, ok := c.tunnels[tunnelID]
	c.tunnelsMu.Unlock()
	if !ok {
		return
	}
	localConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := localConn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.closeLocalTunnel(tunnelID)
	}
}

func (c *Client) closeLocalTunnel(tunnelID string) {
	c.tunnelsMu.Lock()
	localConn, ok := c.tunnels[tunnelID]
	if ok {
		delete(c.tunnels, tunnelID)
	}
	c.tunnelsMu.Unlock()
	if ok {
		localConn.Close()
	}
}

func (c *Client) closeAllLocalTunnels() {
	c.tunnelsMu.Lock()
	victims := make([]*websocket.Conn, 0, len(c.tunnels))
	for id, conn := range c.tunnels {
		victims = append(victims, conn)
		delete(c.tunnels, id)
	}
	c.tunnelsMu.Unlock()

	for _, conn := range victims {
		conn.Close()
	}
}

func toWebsocketScheme(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return rawURL
	}
}
