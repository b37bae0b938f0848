package handler

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/middleware"
	"tutorchat/internal/domain/entity"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/response"
)

type OrderHandler struct {
	orderUseCase *usecase.OrderUseCase
}

func NewOrderHandler(orderUseCase *usecase.OrderUseCase) *OrderHandler {
	return &OrderHandler{
		orderUseCase: orderUseCase,
	}
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.orderUseCase.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	actor := middleware.ActorFrom(c)
	if actor.Role == entity.RoleClient && order.ClientID != actor.ID {
		return response.Error(c, errors.Forbidden("You are not the owner of this order", nil))
	}

	return response.Success(c, order)
}

func (h *OrderHandler) ListTutors(c echo.Context) error {
	tutors, err := h.orderUseCase.ListTutors(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, tutors)
}

func (h *OrderHandler) GetTutor(c echo.Context) error {
	tutor, err := h.orderUseCase.GetTutor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, tutor)
}
