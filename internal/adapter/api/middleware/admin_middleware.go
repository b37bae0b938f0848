package middleware

import (
	"github.com/labstack/echo/v4"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/response"
)

type AdminMiddleware struct{}

func NewAdminMiddleware() *AdminMiddleware {
	return &AdminMiddleware{}
}

func (m *AdminMiddleware) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := ActorFrom(c)
		if actor.ID == "" {
			return response.Error(c, errors.Unauthorized("Authentication required", nil))
		}

		if actor.Role != entity.RoleAdmin {
			return response.Error(c, errors.Forbidden("Admin privileges required", nil))
		}

		return next(c)
	}
}
