package handlers

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/brandonphelps/rusty-pellets/internal/model"
	"github.com/brandonphelps/rusty-pellets/internal/ws"
)

// WebSocketHandler handles the client session upgrade.
type WebSocketHandler struct {
	wsHandler  *ws.Handler
	middleware []gin.HandlerFunc
}

// NewWebSocketHandler creates a new WebSocketHandler. middleware runs
// before the upgrade, e.g. token verification.
func NewWebSocketHandler(wsHandler *ws.Handler, middleware ...gin.HandlerFunc) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler:  wsHandler,
		middleware: middleware,
	}
}

// Attach handles GET /soc - claims the bridge and starts the session loop.
// The ws handler writes the 409 response itself when the bridge is taken.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		if !errors.Is(err, model.ErrSessionActive) {
			log.Printf("WebSocket upgrade from %s failed: %v", c.Request.RemoteAddr, err)
		}
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	handlers := append(append([]gin.HandlerFunc{}, h.middleware...), h.Attach)
	r.GET("/soc", handlers...)
}
