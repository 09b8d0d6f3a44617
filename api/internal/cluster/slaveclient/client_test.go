package slaveclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

func TestBackoffDelay_Bounds(t *testing.T) {
	base := 5 * time.Second
	max := 60 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		delay := BackoffDelay(base, max, attempt)
		expected := base
		for i := 0; i < attempt; i++ {
			expected *= 2
			if expected >= max {
				expected = max
				break
			}
		}
		if expected > max {
			expected = max
		}

		assert.GreaterOrEqual(t, delay, expected)
		assert.LessOrEqual(t, delay, expected+time.Second)
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	delay := BackoffDelay(5*time.Second, 60*time.Second, 20)
	assert.GreaterOrEqual(t, delay, 60*time.Second)
	assert.LessOrEqual(t, delay, 61*time.Second)
}

// TestRunOnce_AuthenticatesAndForwardsHTTP exercises the full client
// against a minimal fake master plus a fake local service, verifying
// the http_request -> local call -> response round trip.
func TestRunOnce_AuthenticatesAndForwardsHTTP(t *testing.T) {
	localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "topsecret", r.Header.Get("x-cluster-internal-auth"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"projects":["p"]}`))
	}))
	defer localSrv.Close()
	localPort := strings.TrimPrefix(localSrv.URL, "http://127.0.0.1:")

	responseReceived := make(chan protocol.Response, 1)

	upgrader := websocket.Upgrader{}
	masterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var auth protocol.Auth
		require.NoError(t, json.Unmarshal(raw, &auth))
		assert.Equal(t, "s1", auth.SlaveID)
		assert.Equal(t, "topsecret", auth.Secret)

		require.NoError(t, conn.WriteJSON(protocol.NewAuthSuccess("s1")))

		require.NoError(t, conn.WriteJSON(protocol.NewHTTPRequest("req-1", "GET", "/status", nil, nil)))

		_, raw, err = conn.ReadMessage()
		require.NoError(t, err)
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		responseReceived <- resp
	}))
	defer masterSrv.Close()

	cfg := Config{
		MasterURL:          masterSrv.URL,
		SlaveID:            "s1",
		SlaveName:          "Slave One",
		Secret:             "topsecret",
		LocalPort:          localPort,
		ReconnectBaseDelay: 5 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
	client := New(cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go client.runOnce(ctx)

	select {
	case resp := <-responseReceived:
		require.Equal(t, 200, resp.Status)
		require.NotNil(t, resp.Body)
		assert.JSONEq(t, `{"projects":["p"]}`, *resp.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response frame")
	}
}

// TestRunOnce_ReportsAuthenticated asserts the bool runOnce returns
// reflects whether auth_success was observed, independent of how the
// session later ends.
func TestRunOnce_ReportsAuthenticated(t *testing.T) {
	upgrader := websocket.Upgrader{}
	masterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(protocol.NewAuthSuccess("s1")))
		// Drop the connection immediately after auth succeeds.
	}))
	defer masterSrv.Close()

	cfg := Config{
		MasterURL:          masterSrv.URL,
		SlaveID:            "s1",
		SlaveName:          "Slave One",
		Secret:             "topsecret",
		LocalPort:          "0",
		ReconnectBaseDelay: 5 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
	client := New(cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	authenticated, err := client.runOnce(ctx)
	assert.True(t, authenticated)
	assert.Error(t, err)
}

func TestRunOnce_NotAuthenticatedOnRejection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	masterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(protocol.NewError("bad secret")))
	}))
	defer masterSrv.Close()

	cfg := Config{
		MasterURL:          masterSrv.URL,
		SlaveID:            "s1",
		SlaveName:          "Slave One",
		Secret:             "wrong",
		LocalPort:          "0",
		ReconnectBaseDelay: 5 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
	client := New(cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	authenticated, err := client.runOnce(ctx)
	assert.False(t, authenticated)
	assert.Error(t, err)
}

// TestRun_ResetsBackoffAfterSuccessfulSession drives a full connect ->
// auth_success -> disconnect -> reconnect cycle through Run and
// asserts the post-success reconnect delay lands back at baseDelay
// instead of continuing to climb, per §4.6 step 4.
func TestRun_ResetsBackoffAfterSuccessfulSession(t *testing.T) {
	baseDelay := 50 * time.Millisecond
	maxDelay := 2 * time.Second

	var mu sync.Mutex
	connectTimes := []time.Time{}

	upgrader := websocket.Upgrader{}
	masterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		mu.Lock()
		connectTimes = append(connectTimes, time.Now())
		n := len(connectTimes)
		mu.Unlock()

		_, _, err = conn.ReadMessage()
		require.NoError(t, err)

		if n == 1 {
			// First connection: fail authentication outright, forcing
			// one real backoff round before anything succeeds.
			require.NoError(t, conn.WriteJSON(protocol.NewError("not yet")))
			return
		}

		// Every subsequent connection authenticates, then immediately
		// drops, so Run should reset attempt back to 0 each time.
		require.NoError(t, conn.WriteJSON(protocol.NewAuthSuccess("s1")))
	}))
	defer masterSrv.Close()

	cfg := Config{
		MasterURL:          masterSrv.URL,
		SlaveID:            "s1",
		SlaveName:          "Slave One",
		Secret:             "topsecret",
		LocalPort:          "0",
		ReconnectBaseDelay: baseDelay,
		ReconnectMaxDelay:  maxDelay,
	}
	client := New(cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	// Let it run through the failed first attempt and several
	// successful-then-dropped sessions. Each reconnect waits baseDelay
	// plus up to 1s of jitter, so four connections fit well within 4s.
	time.Sleep(4 * time.Second)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(connectTimes), 4, "expected at least one failed attempt plus several reset reconnects")

	// Gaps after the second connection (the first authenticated one)
	// onward should all be back near baseDelay, not climbing toward
	// maxDelay, because each of those sessions reached auth_success:
	// baseDelay plus under 1s of jitter, with a small allowance for the
	// dial and handshake.
	for i := 1; i < len(connectTimes)-1; i++ {
		gap := connectTimes[i+1].Sub(connectTimes[i])
		assert.GreaterOrEqual(t, gap, baseDelay)
		assert.Less(t, gap, baseDelay+time.Second+250*time.Millisecond, "reconnect delay at index %d grew past a reset baseline", i)
	}
}
