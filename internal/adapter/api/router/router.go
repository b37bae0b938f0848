package router

import (
	"tutorchat/internal/adapter/api/middleware"

	"github.com/labstack/echo/v4"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, adminMiddleware *middleware.AdminMiddleware) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware)
	SetupOrderRouter(e, authMiddleware)
	SetupNotificationRouter(e, authMiddleware)
	SetupAdminRouter(e, authMiddleware, adminMiddleware)
}
