package router

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kari/api/internal/api/handlers"
	"kari/api/internal/api/middleware"
	"kari/api/internal/cluster/master"
	"kari/api/internal/config"
	"kari/api/internal/localws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter builds a router with a live cluster manager and the
// minimum set of handlers needed to exercise the /api/cluster group's
// auth gate. AuthService/RoleService are nil: RequireAuthentication
// rejects missing-token requests before ever touching them.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := discardLogger()
	m := master.New("secret", time.Second, time.Second, logger)
	authMw := middleware.NewAuthMiddleware(nil, nil, logger)
	localHandler := localws.NewHandler(logger)

	return NewRouter(RouterConfig{
		AllowedOrigins:       []string{"http://localhost"},
		ClusterManager:       m,
		ClusterStatusHandler: handlers.NewClusterStatusHandler(m, config.ModeMaster),
		RealtimeHandler:      handlers.NewRealtimeHandler(m, localHandler, logger),
		AuthMiddleware:       authMw,
		Logger:               logger,
	})
}

// newTLSRequest builds a request that EnforceTLS accepts as secure, so
// the auth gate under test is what actually produces the response.
func newTLSRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	return req
}

func TestClusterStatus_OpenWithoutAuth(t *testing.T) {
	r := newTestRouter(t)

	req := newTLSRequest(http.MethodGet, "/api/cluster/status")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestClusterSlaves_RequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{
		"/api/cluster/slaves",
		"/api/cluster/slaves/local",
		"/api/cluster/slaves/local/health",
	} {
		req := newTLSRequest(http.MethodGet, path)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "expected %s to require authentication", path)
	}
}
