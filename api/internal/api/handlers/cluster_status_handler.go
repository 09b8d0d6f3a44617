// api/internal/api/handlers/cluster_status_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kari/api/internal/cluster/master"
	"kari/api/internal/cluster/registry"
	"kari/api/internal/config"
)

// ClusterStatusHandler implements C8: read-only endpoints exposing
// the slave registry's state. manager is nil in standalone and slave
// mode, in which case every endpoint except /status answers 400.
type ClusterStatusHandler struct {
	manager *master.Manager
	mode    config.Mode
}

func NewClusterStatusHandler(manager *master.Manager, mode config.Mode) *ClusterStatusHandler {
	return &ClusterStatusHandler{manager: manager, mode: mode}
}

type slaveSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// HandleStatus handles GET /api/cluster/status.
func (h *ClusterStatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	mode := "standalone"
	isMaster := h.manager != nil
	var slaves []slaveSummary

	if isMaster {
		mode = "master"
		for _, s := range h.manager.Registry().List() {
			slaves = append(slaves, slaveSummary{ID: s.ID, Name: s.Name, Status: s.Status})
		}
	} else if h.mode == config.ModeSlave {
		mode = "slave"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            mode,
		"isMaster":        isMaster,
		"connectedSlaves": len(slaves),
		"slaves":          orEmpty(slaves),
	})
}

type clusterClient struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	IsLocal  bool   `json:"isLocal"`
	LastPing string `json:"lastPing,omitempty"`
}

// HandleListSlaves handles GET /api/cluster/slaves (master only).
func (h *ClusterStatusHandler) HandleListSlaves(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeNotInMasterMode(w)
		return
	}

	clients := []clusterClient{
		{ID: "local", Name: "Local Server", Status: registry.StatusConnected, IsLocal: true},
	}
	for _, s := range h.manager.Registry().List() {
		clients = append(clients, clusterClient{
			ID:       s.ID,
			Name:     s.Name,
			Status:   s.Status,
			IsLocal:  false,
			LastPing: s.LastPingAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"clients": clients,
	})
}

// HandleGetSlave handles GET /api/cluster/slaves/:id.
func (h *ClusterStatusHandler) HandleGetSlave(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeNotInMasterMode(w)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "local" {
		writeJSON(w, http.StatusOK, clusterClient{ID: "local", Name: "Local Server", Status: registry.StatusConnected, IsLocal: true})
		return
	}

	s, ok := h.manager.Registry().Get(id)
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, clusterClient{ID: s.ID, Name: s.Name, Status: s.Status, IsLocal: false})
}

// HandleSlaveHealth handles GET /api/cluster/slaves/:id/health.
func (h *ClusterStatusHandler) HandleSlaveHealth(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeNotInMasterMode(w)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "local" {
		writeJSON(w, http.StatusOK, map[string]any{
			"healthy": true,
			"slaveId": "local",
			"name":    "Local Server",
			"status":  registry.StatusConnected,
			"message": "local server is always healthy from its own perspective",
		})
		return
	}

	s, ok := h.manager.Registry().Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"healthy": false,
			"slaveId": id,
			"message": "slave not registered",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":  s.Status == registry.StatusConnected,
		"slaveId":  s.ID,
		"name":     s.Name,
		"status":   s.Status,
		"lastPing": s.LastPingAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"message":  "ok",
	})
}

func writeNotInMasterMode(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Not in master mode"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func orEmpty(s []slaveSummary) []slaveSummary {
	if s == nil {
		return []slaveSummary{}
	}
	return s
}
