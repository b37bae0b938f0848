package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/response"
)

// TokenIssuer mints sign-in tokens carrying a role.
type TokenIssuer interface {
	GenerateToken(ctx context.Context, uid string, role entity.Role) (string, error)
	SetRole(ctx context.Context, uid string, role entity.Role) error
}

type DevTokenHandler struct {
	issuer TokenIssuer
}

var devTokenHandler *DevTokenHandler

func NewDevTokenHandler(issuer TokenIssuer) *DevTokenHandler {
	return &DevTokenHandler{
		issuer: issuer,
	}
}

func SetupDevTokenHandler(issuer TokenIssuer) {
	devTokenHandler = NewDevTokenHandler(issuer)
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

type devTokenRequest struct {
	UID  string `json:"uid" validate:"required"`
	Role string `json:"role" validate:"required,oneof=client tutor admin"`
}

// GenerateToken returns a custom token for uid acting as role. The role is
// also stored on the user so the exchanged ID token carries it.
func (h *DevTokenHandler) GenerateToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	role := entity.Role(req.Role)
	if err := h.issuer.SetRole(c.Request().Context(), req.UID, role); err != nil {
		return response.Error(c, err)
	}

	token, err := h.issuer.GenerateToken(c.Request().Context(), req.UID, role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"token": token,
		"uid":   req.UID,
		"role":  role,
	})
}
