package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kari/api/internal/cluster/master"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("local-handled"))
	})
}

func TestClusterRouting_NilManagerAlwaysLocal(t *testing.T) {
	mw := ClusterRouting(nil, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("X-Target-Slave", "s1")
	w := httptest.NewRecorder()

	mw(localHandler()).ServeHTTP(w, req)
	assert.Equal(t, "local-handled", w.Body.String())
}

func TestClusterRouting_NoHeaderIsLocal(t *testing.T) {
	m := master.New("secret", time.Second, time.Second, discardLogger())
	mw := ClusterRouting(m, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	w := httptest.NewRecorder()

	mw(localHandler()).ServeHTTP(w, req)
	assert.Equal(t, "local-handled", w.Body.String())
}

func TestClusterRouting_AlwaysLocalPrefix(t *testing.T) {
	m := master.New("secret", time.Second, time.Second, discardLogger())
	mw := ClusterRouting(m, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/cluster/status", nil)
	req.Header.Set("X-Target-Slave", "s1")
	w := httptest.NewRecorder()

	mw(localHandler()).ServeHTTP(w, req)
	assert.Equal(t, "local-handled", w.Body.String())
}

func TestClusterRouting_SlaveNotConnected(t *testing.T) {
	m := master.New("secret", time.Second, time.Second, discardLogger())
	mw := ClusterRouting(m, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("X-Target-Slave", "ghost")
	w := httptest.NewRecorder()

	mw(localHandler()).ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Slave not connected", body["error"])
	assert.Equal(t, "ghost", body["slaveId"])
}
