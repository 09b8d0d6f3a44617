// api/internal/api/middleware/cluster_routing.go
package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"kari/api/internal/cluster/master"
)

// alwaysLocalPrefixes lists path prefixes the fabric never forwards,
// even if a caller attaches X-Target-Slave: the entire versioned panel
// API (auth, domains, applications, audit) and the cluster status
// surface itself must always resolve against this process, never a
// slave.
var alwaysLocalPrefixes = []string{"/api/v1/", "/api/cluster/", "/cluster/tunnel", "/ws", "/shell"}

func isAlwaysLocal(path string) bool {
	for _, prefix := range alwaysLocalPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ClusterRouting implements C7: it decides, per request, whether to
// dispatch locally or forward to a slave over the tunnel fabric. When
// manager is nil (standalone or slave mode) every request passes
// through to the local handler chain unconditionally.
func ClusterRouting(manager *master.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil || isAlwaysLocal(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			slaveID := r.Header.Get("X-Target-Slave")
			if slaveID == "" || slaveID == "local" {
				next.ServeHTTP(w, r)
				return
			}

			if !manager.Registry().IsConnected(slaveID) {
				writeStructuredError(w, http.StatusServiceUnavailable, "Slave not connected", slaveID, "slave is not currently connected to the master")
				return
			}

			result, err := manager.ForwardHTTPRequest(r.Context(), slaveID, r)
			if err != nil {
				logger.Warn("tunnel forward failed", slog.String("slave_id", slaveID), slog.Any("error", err))
				writeStructuredError(w, http.StatusBadGateway, "Tunnel error", slaveID, err.Error())
				return
			}

			for k, vs := range result.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(result.Status)

			if json.Valid(result.Body) {
				w.Header().Set("Content-Type", "application/json")
				var compact bytes.Buffer
				if json.Compact(&compact, result.Body) == nil {
					w.Write(compact.Bytes())
					return
				}
			}
			w.Write(result.Body)
		})
	}
}

func writeStructuredError(w http.ResponseWriter, status int, errTitle, slaveID, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errTitle,
		"slaveId": slaveID,
		"message": message,
	})
}
