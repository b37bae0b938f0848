package handler

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/middleware"
	"tutorchat/internal/domain/entity"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/response"
	"tutorchat/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type sendMessageRequest struct {
	Body    string `json:"body" validate:"required,notblank,max=4000"`
	TutorID string `json:"tutor_id"`
}

// thread locates the thread addressed by the order path parameter and the
// tutor_id and mode query parameters.
func (h *ChatHandler) thread(c echo.Context, tutorID string) (*entity.Thread, error) {
	if tutorID == "" {
		tutorID = c.QueryParam("tutor_id")
	}
	return h.chatUseCase.LocateThread(
		c.Request().Context(),
		c.Param("id"),
		middleware.ActorFrom(c),
		tutorID,
		entity.ThreadMode(c.QueryParam("mode")),
	)
}

// ResolveThread returns the thread key the caller addresses on an order.
func (h *ChatHandler) ResolveThread(c echo.Context) error {
	thread, err := h.thread(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, thread)
}

// GetMessages returns a page of the thread in display order.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	thread, err := h.thread(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.GetMessages(c.Request().Context(), thread.Key, middleware.ActorFrom(c))
	if err != nil {
		return response.Error(c, err)
	}

	pagination := utils.GetPaginationParams(c)
	start, end := pagination.Window(len(messages))

	return response.Paginated(c, messages[start:end], int64(len(messages)), pagination.Page, pagination.PageSize)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	thread, err := h.thread(c, req.TutorID)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.Send(c.Request().Context(), usecase.SendMessageInput{
		Key:    thread.Key,
		Sender: middleware.ActorFrom(c),
		Body:   req.Body,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkRead records that the caller opened the thread.
func (h *ChatHandler) MarkRead(c echo.Context) error {
	thread, err := h.thread(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	if _, err := h.chatUseCase.Open(c.Request().Context(), thread.Key, middleware.ActorFrom(c)); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"key":  thread.Key,
		"read": true,
	})
}

func (h *ChatHandler) GetUnreadCount(c echo.Context) error {
	thread, err := h.thread(c, "")
	if err != nil {
		return response.Error(c, err)
	}

	count, err := h.chatUseCase.UnreadCount(c.Request().Context(), thread.Key, middleware.ActorFrom(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"key":   thread.Key,
		"count": count,
	})
}

// ListBiddingThreads lists the candidate threads of an order.
func (h *ChatHandler) ListBiddingThreads(c echo.Context) error {
	summaries, err := h.chatUseCase.ListBiddingThreads(c.Request().Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, summaries)
}
