package handler

import (
	"tutorchat/internal/usecase"
)

var (
	chatHandler         *ChatHandler
	orderHandler        *OrderHandler
	notificationHandler *NotificationHandler
	adminHandler        *AdminHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	orderUseCase *usecase.OrderUseCase,
) {
	chatHandler = NewChatHandler(chatUseCase)
	orderHandler = NewOrderHandler(orderUseCase)
	notificationHandler = NewNotificationHandler(chatUseCase)
	adminHandler = NewAdminHandler(orderUseCase, chatUseCase)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetOrderHandler() *OrderHandler {
	return orderHandler
}

func GetNotificationHandler() *NotificationHandler {
	return notificationHandler
}

func GetAdminHandler() *AdminHandler {
	return adminHandler
}
