package router

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/handler"
	"tutorchat/internal/adapter/api/middleware"
)

func SetupOrderRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	orderHandler := handler.GetOrderHandler()

	orders := e.Group("/v1/orders")
	orders.Use(authMiddleware.Authenticate)
	orders.GET("/:id", orderHandler.GetOrder)

	tutors := e.Group("/v1/tutors")
	tutors.Use(authMiddleware.Authenticate)
	tutors.GET("", orderHandler.ListTutors)
	tutors.GET("/:id", orderHandler.GetTutor)
}
