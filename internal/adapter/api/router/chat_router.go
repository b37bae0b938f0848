package router

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/handler"
	"tutorchat/internal/adapter/api/middleware"
)

// SetupChatRouter sets up the order thread routes. Threads are addressed by
// order, plus tutor_id for bidding threads.
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	chatHandler := handler.GetChatHandler()

	threads := e.Group("/v1/orders")
	threads.Use(authMiddleware.Authenticate)

	threads.GET("/:id/thread", chatHandler.ResolveThread)
	threads.GET("/:id/threads", chatHandler.ListBiddingThreads)
	threads.GET("/:id/messages", chatHandler.GetMessages)
	threads.POST("/:id/messages", chatHandler.SendMessage)
	threads.PUT("/:id/read", chatHandler.MarkRead)
	threads.GET("/:id/unread", chatHandler.GetUnreadCount)
}
