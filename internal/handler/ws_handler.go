/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

The connection is registered with the real-time coordinator right after the upgrade.
Authentication happens through the optional token query parameter (or a bearer
header), or later through an auth event.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"studyhub/internal/app/realtime"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/logx"
)

// HandleWebSocket upgrades the request and hands the connection to a realtime.Client.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = jwt.BearerToken(r)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("Failed to upgrade connection to WebSocket", "error", err.Error())
			return
		}

		client := realtime.NewClient(deps.Coordinator, conn)

		// The request context ends with this handler; the connection outlives it.
		if err := client.Serve(context.Background(), token); err != nil {
			logx.Error(err, "Failed to register WebSocket connection")

			closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable")
			_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
			_ = conn.Close()
			return
		}

		logx.Info("WebSocket connection established", "connection_id", string(client.ID()))
	}
}
