package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/response"
)

type AuthMiddleware struct {
	verifier usecase.IdentityVerifier
}

func NewAuthMiddleware(verifier usecase.IdentityVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		actor, err := m.verifier.VerifyToken(c.Request().Context(), parts[1])
		if err != nil {
			return response.Error(c, err)
		}

		c.Set("uid", actor.ID)
		c.Set("role", actor.Role)

		return next(c)
	}
}

// Identify verifies a raw token outside the header flow, as the WebSocket
// upgrade passes it in the query string.
func (m *AuthMiddleware) Identify(c echo.Context, token string) (entity.Actor, error) {
	if token == "" {
		return entity.Actor{}, errors.Unauthorized("Authentication required", nil)
	}
	return m.verifier.VerifyToken(c.Request().Context(), token)
}

// ActorFrom returns the identity Authenticate stored on c.
func ActorFrom(c echo.Context) entity.Actor {
	uid, _ := c.Get("uid").(string)
	role, _ := c.Get("role").(entity.Role)
	return entity.Actor{ID: uid, Role: role}
}
