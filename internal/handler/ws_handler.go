package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"geomap/internal/app/presence"
	"geomap/internal/pkg/errs"
	"geomap/internal/pkg/limiter"
	"geomap/internal/pkg/logx"
	"geomap/internal/pkg/resp"
)

// HandleWebSocket upgrades the connection, hands a new anonymous session to the hub and
// runs its pumps. The session binds to an identity with its first new_user event.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := presence.NewClient(deps.Hub, conn, logx.AnonymizeIP(ip))

		if err := deps.Hub.Register(client); err != nil {
			logx.Warn("WebSocket connection dropped: hub is shutting down.", "session_id", client.ID())
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	}
}
