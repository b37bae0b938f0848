package handler

import (
	"context"
	"net/http"
	"strings"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"tutorchat/internal/adapter/api/middleware"
	ws "tutorchat/internal/infrastructure/websocket"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/response"
)

type WebSocketHandler struct {
	ctx            context.Context
	wsManager      *ws.Manager
	authMiddleware *middleware.AuthMiddleware
	upgrader       gorillaws.Upgrader
}

// NewWebSocketHandler serves sessions that live until ctx ends, independent
// of the upgrade request.
func NewWebSocketHandler(ctx context.Context, wsManager *ws.Manager, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:            ctx,
		wsManager:      wsManager,
		authMiddleware: authMiddleware,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket authenticates with the token query parameter, since
// browsers cannot set headers on the upgrade request, then upgrades.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	}

	actor, err := h.authMiddleware.Identify(c, token)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := h.wsManager.NewClient(h.ctx, actor, conn)
	if !h.wsManager.Join(client) {
		conn.Close()
		return nil
	}

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}
