package handler

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/middleware"
	"tutorchat/internal/domain/entity"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/response"
)

type NotificationHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewNotificationHandler(chatUseCase *usecase.ChatUseCase) *NotificationHandler {
	return &NotificationHandler{
		chatUseCase: chatUseCase,
	}
}

// GetUnreadCount returns the caller's total unread count over the scope in
// the query string, narrowed to what the caller may see.
func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	var scope entity.NotificationScope
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &scope); err != nil {
		return response.Error(c, errors.BadRequest("Invalid query parameters", err))
	}

	actor := middleware.ActorFrom(c)
	count, err := h.chatUseCase.AggregateUnread(c.Request().Context(), actor, scope)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"count": count,
		"scope": h.chatUseCase.VisibleScope(actor, scope),
	})
}

func (h *NotificationHandler) ListNotifications(c echo.Context) error {
	var scope entity.NotificationScope
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &scope); err != nil {
		return response.Error(c, errors.BadRequest("Invalid query parameters", err))
	}

	entries, err := h.chatUseCase.ListNotifications(c.Request().Context(), middleware.ActorFrom(c), scope)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, entries)
}
