// api/internal/api/handlers/realtime_handler.go
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"kari/api/internal/cluster/master"
	"kari/api/internal/cluster/protocol"
	"kari/api/internal/localws"
)

// RealtimeHandler serves the symmetric /ws and /shell upgrade
// endpoints: accept the upgrade locally, then either hand the
// connection to the local echo service or, per C7's WS routing rule,
// to the master's tunnel multiplexer for the slave named by _slave.
type RealtimeHandler struct {
	manager *master.Manager // nil outside master mode
	local   *localws.Handler
	logger  *slog.Logger
}

func NewRealtimeHandler(manager *master.Manager, local *localws.Handler, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{manager: manager, local: local, logger: logger}
}

var realtimeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles GET /ws.
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, protocol.ChannelWS, h.local.ServeWS)
}

// ServeShell handles GET /shell.
func (h *RealtimeHandler) ServeShell(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, protocol.ChannelShell, h.local.ServeShell)
}

func (h *RealtimeHandler) serve(w http.ResponseWriter, r *http.Request, channel string, localFallback http.HandlerFunc) {
	slaveID := r.URL.Query().Get("_slave")
	if slaveID == "" || slaveID == "local" || h.manager == nil {
		localFallback(w, r)
		return
	}

	if !h.manager.Registry().IsConnected(slaveID) {
		http.Error(w, `{"error":"Slave not connected"}`, http.StatusServiceUnavailable)
		return
	}

	userConn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime upgrade failed", slog.Any("error", err))
		return
	}

	token := r.URL.Query().Get("token")
	h.manager.CreateWSTunnel(slaveID, userConn, channel, token)
}
