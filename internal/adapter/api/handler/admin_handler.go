package handler

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/usecase"
	"tutorchat/pkg/response"
)

type AdminHandler struct {
	orderUseCase *usecase.OrderUseCase
	chatUseCase  *usecase.ChatUseCase
}

func NewAdminHandler(orderUseCase *usecase.OrderUseCase, chatUseCase *usecase.ChatUseCase) *AdminHandler {
	return &AdminHandler{
		orderUseCase: orderUseCase,
		chatUseCase:  chatUseCase,
	}
}

type assignTutorRequest struct {
	TutorID string `json:"tutor_id" validate:"required"`
}

// AssignTutor ends bidding on an order.
func (h *AdminHandler) AssignTutor(c echo.Context) error {
	var req assignTutorRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	order, err := h.orderUseCase.AssignTutor(c.Request().Context(), c.Param("id"), req.TutorID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, order)
}
