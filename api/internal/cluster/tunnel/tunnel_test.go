package tunnel

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kari/api/internal/cluster/protocol"
)

type recordingEmitter struct {
	mu     sync.Mutex
	frames []any
}

func (e *recordingEmitter) emit(slaveID string, frame any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, frame)
	return nil
}

func (e *recordingEmitter) last() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// newUserConn starts an echo-free WebSocket server and dials it,
// simulating the user-side connection a real HTTP upgrade would hand
// to the multiplexer.
func newUserConn(t *testing.T) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var serverConn *websocket.Conn
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = conn
		close(ready)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	<-ready
	t.Cleanup(func() { clientConn.Close() })
	_ = serverConn
	return clientConn, srv
}

func TestOpen_EmitsWSTunnelOpen(t *testing.T) {
	emitter := &recordingEmitter{}
	m := New(emitter.emit, discardLogger())

	userConn, _ := newUserConn(t)
	id := m.Open("s1", userConn, protocol.ChannelWS, "tok")
	require.NotEmpty(t, id)

	time.Sleep(20 * time.Millisecond)
	frame, ok := emitter.last().(protocol.WSTunnelOpen)
	require.True(t, ok)
	assert.Equal(t, id, frame.TunnelID)
	assert.Equal(t, "tok", frame.Token)
}

func TestDeliver_WritesToUserConn(t *testing.T) {
	emitter := &recordingEmitter{}
	m := New(emitter.emit, discardLogger())

	// the "user" side in this test is actually the server end, since
	// we need to read what the multiplexer wrote to its client conn.
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	id := m.Open("s1", clientConn, protocol.ChannelWS, "tok")
	m.Deliver(id, `{"b":2}`)

	select {
	case msg := <-received:
		assert.Equal(t, `{"b":2}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered frame")
	}
}

func TestCloseAllForSlave_RemovesOnlyThatSlavesTunnels(t *testing.T) {
	emitter := &recordingEmitter{}
	m := New(emitter.emit, discardLogger())

	connA, _ := newUserConn(t)
	connB, _ := newUserConn(t)

	idA := m.Open("s1", connA, protocol.ChannelWS, "")
	idB := m.Open("s2", connB, protocol.ChannelWS, "")

	m.CloseAllForSlave("s1")

	m.mu.Lock()
	_, aExists := m.tunnels[idA]
	_, bExists := m.tunnels[idB]
	m.mu.Unlock()

	assert.False(t, aExists)
	assert.True(t, bExists)
}
