package master

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kari/api/internal/cluster/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestMaster(t *testing.T, secret string, authTimeout time.Duration) (*Manager, *httptest.Server) {
	t.Helper()
	m := New(secret, authTimeout, 2*time.Second, discardLogger())
	srv := httptest.NewServer(http.HandlerFunc(m.HandleControlConnection))
	t.Cleanup(srv.Close)
	return m, srv
}

func dialSlave(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAuthSuccess(t *testing.T) {
	m, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)

	require.NoError(t, conn.WriteJSON(protocol.NewAuth("s1", "Slave One", "s3cr3t")))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	typ, err := protocol.PeekType(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeAuthSuccess, typ)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, m.Registry().IsConnected("s1"))
}

func TestAuthFailure_WrongSecret(t *testing.T) {
	_, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)

	require.NoError(t, conn.WriteJSON(protocol.NewAuth("s1", "Slave One", "wrong")))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, protocol.CloseAuthFailed, closeErr.Code)
}

func TestExpectedAuth_NonAuthFirstFrame(t *testing.T) {
	_, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)

	require.NoError(t, conn.WriteJSON(protocol.NewPing(1)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, protocol.CloseExpectedAuth, closeErr.Code)
}

func TestAuthTimeout(t *testing.T) {
	_, srv := startTestMaster(t, "s3cr3t", 50*time.Millisecond)
	conn := dialSlave(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, protocol.CloseAuthTimeout, closeErr.Code)
}

func TestEviction_SecondAuthReplacesFirst(t *testing.T) {
	m, srv := startTestMaster(t, "s3cr3t", time.Second)

	first := dialSlave(t, srv)
	require.NoError(t, first.WriteJSON(protocol.NewAuth("s1", "First", "s3cr3t")))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	second := dialSlave(t, srv)
	require.NoError(t, second.WriteJSON(protocol.NewAuth("s1", "Second", "s3cr3t")))
	_, _, err = second.ReadMessage()
	require.NoError(t, err)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, protocol.CloseReplaced, closeErr.Code)

	s, ok := m.Registry().Get("s1")
	require.True(t, ok)
	assert.Equal(t, "Second", s.Name)
}

func TestPingPong_TouchesRegistry(t *testing.T) {
	m, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)

	require.NoError(t, conn.WriteJSON(protocol.NewAuth("s1", "Slave One", "s3cr3t")))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	before, _ := m.Registry().Get("s1")
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(protocol.NewPing(123)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	typ, _ := protocol.PeekType(raw)
	assert.Equal(t, protocol.TypePong, typ)

	after, _ := m.Registry().Get("s1")
	assert.True(t, after.LastPingAt.After(before.LastPingAt))
}

func TestForwardHTTPRequest_StripsHopByHopAndRoutingHeaders(t *testing.T) {
	m, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)
	require.NoError(t, conn.WriteJSON(protocol.NewAuth("s1", "Slave One", "s3cr3t")))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	// slave-side goroutine: receive http_request, capture headers, reply.
	gotHeaders := make(chan map[string][]string, 1)
	go func() {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.HTTPRequest
		if json.Unmarshal(raw, &req) != nil {
			return
		}
		gotHeaders <- req.Headers
		body := `{"projects":["p"]}`
		conn.WriteJSON(protocol.NewResponse(req.RequestID, 200, map[string][]string{"Content-Type": {"application/json"}}, &body))
	}()

	httpReq := httptest.NewRequest(http.MethodGet, "/api/projects", strings.NewReader(""))
	httpReq.Header.Set("X-Target-Slave", "s1")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Accept", "application/json")

	result, err := m.ForwardHTTPRequest(context.Background(), "s1", httpReq)
	require.NoError(t, err)
	assert.Equal(t, 200, result.Status)
	assert.JSONEq(t, `{"projects":["p"]}`, string(result.Body))

	headers := <-gotHeaders
	assert.NotContains(t, headers, "X-Target-Slave")
	assert.NotContains(t, headers, "Connection")
	assert.Contains(t, headers, "Accept")
}

func TestForwardHTTPRequest_SlaveNotConnected(t *testing.T) {
	m, _ := startTestMaster(t, "s3cr3t", time.Second)

	httpReq := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	_, err := m.ForwardHTTPRequest(context.Background(), "ghost", httpReq)
	require.Error(t, err)
}

func TestCreateWSTunnel_ForwardsToken(t *testing.T) {
	m, srv := startTestMaster(t, "s3cr3t", time.Second)
	conn := dialSlave(t, srv)
	require.NoError(t, conn.WriteJSON(protocol.NewAuth("s1", "Slave One", "s3cr3t")))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := websocket.Upgrader{}
		userConn, err := u.Upgrade(w, r, nil)
		require.NoError(t, err)

		q := url.Values{"token": {"abc123"}}
		_ = q
		id := m.CreateWSTunnel("s1", userConn, protocol.ChannelWS, "abc123")
		assert.NotEmpty(t, id)
	}))
	defer userSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(userSrv.URL, "http")
	userClient, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer userClient.Close()

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	typ, err := protocol.PeekType(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeWSTunnelOpen, typ)

	var open protocol.WSTunnelOpen
	require.NoError(t, json.Unmarshal(raw, &open))
	assert.Equal(t, "abc123", open.Token)
}
