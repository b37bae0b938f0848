package router

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/handler"
	"tutorchat/internal/adapter/api/middleware"
)

func SetupNotificationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	notificationHandler := handler.GetNotificationHandler()

	notifications := e.Group("/v1/notifications")
	notifications.Use(authMiddleware.Authenticate)
	notifications.GET("", notificationHandler.ListNotifications)
	notifications.GET("/unread", notificationHandler.GetUnreadCount)
}
