// Package localws implements the generic local realtime endpoints
// that the cluster tunnel fabric forwards to: /ws and /shell. These
// are the "local service" the spec treats as an opaque external
// collaborator — the tunnel only needs something real to dial on
// localhost:<port> so C6's ws_tunnel_open handling has a concrete
// target to exercise end to end. Each connection simply echoes
// frames back, tagged with the channel it arrived on, which is
// enough for the S6 WS-relay scenario without inventing product
// functionality the spec explicitly scopes out.
package localws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the /ws and /shell upgrade endpoints. Both channels
// share the same echo loop; Channel only affects logging, matching
// the wire protocol's treatment of "ws" and "shell" as two named
// instances of the same relay primitive.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// ServeWS handles GET /ws.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "ws")
}

// ServeShell handles GET /shell.
func (h *Handler) ServeShell(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "shell")
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, channel string) {
	token := r.URL.Query().Get("token")
	internalAuth := r.Header.Get("x-cluster-internal-auth")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("localws upgrade failed", slog.String("channel", channel), slog.Any("error", err))
		return
	}
	defer conn.Close()

	h.logger.Debug("localws connection opened",
		slog.String("channel", channel),
		slog.Bool("has_token", token != ""),
		slog.Bool("has_internal_auth", internalAuth != ""),
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
