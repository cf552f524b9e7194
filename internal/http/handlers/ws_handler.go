// README: Websocket upgrade endpoint for the realtime channel.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fretlink/internal/http/middleware"
	"fretlink/internal/logging"
	"fretlink/internal/realtime"
)

type WSHandler struct {
	hub      *realtime.Hub
	router   realtime.Handler
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, router realtime.Handler, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// mobile clients send no Origin or an app scheme
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve upgrades an authenticated request and blocks until the connection ends.
func (h *WSHandler) Serve(c *gin.Context) {
	uid, role := middleware.Caller(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.Warn("websocket upgrade failed", "caller_uid", uid, logging.Err(err))
		return
	}
	h.hub.Attach(conn, uid, role).Serve(c.Request.Context(), h.router)
}
