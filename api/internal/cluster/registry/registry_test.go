package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair spins up a throwaway echo server and returns a live client
// *websocket.Conn to use as a registry entry's connection handle.
func dialPair(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRegister_AndGet(t *testing.T) {
	r := New()
	conn := dialPair(t)

	r.Register("s1", "Slave One", conn)

	s, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "Slave One", s.Name)
	assert.Equal(t, StatusConnected, s.Status)
	assert.True(t, r.IsConnected("s1"))
}

func TestRegister_EvictsPrior(t *testing.T) {
	r := New()
	first := dialPair(t)
	second := dialPair(t)

	r.Register("s1", "First", first)
	r.Register("s1", "Second", second)

	s, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "Second", s.Name)
	assert.Len(t, r.List(), 1)

	// the evicted connection should observe a close within a short window
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	if ok {
		assert.Equal(t, CloseReplaced, closeErr.Code)
	}
}

// TestRegister_ClosesPriorBeforeInstallingReplacement covers Invariant
// 2: the prior connection must be sent its 4004 close before a lookup
// can observe the replacement record, not after.
func TestRegister_ClosesPriorBeforeInstallingReplacement(t *testing.T) {
	r := New()
	first := dialPair(t)
	second := dialPair(t)

	r.Register("s1", "First", first)

	closeObserved := make(chan struct{})
	go func() {
		first.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := first.ReadMessage()
		if err != nil {
			close(closeObserved)
		}
	}()

	r.Register("s1", "Second", second)

	select {
	case <-closeObserved:
	case <-time.After(2 * time.Second):
		t.Fatal("prior connection never observed a close")
	}

	s, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "Second", s.Name)
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register("s1", "Slave One", dialPair(t))
	r.Unregister("s1")

	_, ok := r.Get("s1")
	assert.False(t, ok)
	assert.False(t, r.IsConnected("s1"))
	assert.Empty(t, r.List())
}

func TestTouch_UpdatesLastPing(t *testing.T) {
	r := New()
	r.Register("s1", "Slave One", dialPair(t))
	s, _ := r.Get("s1")
	before := s.LastPingAt

	time.Sleep(5 * time.Millisecond)
	r.Touch("s1")

	s, _ = r.Get("s1")
	assert.True(t, s.LastPingAt.After(before))
}

func TestTouch_UnknownID_NoPanic(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.Touch("ghost") })
}
