package router

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up WebSocket routes. The handler authenticates
// from the token query parameter itself.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
