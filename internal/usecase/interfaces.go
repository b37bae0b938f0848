package usecase

import (
	"context"

	"tutorchat/internal/domain/entity"
)

// IdentityVerifier turns a bearer token into the acting identity.
type IdentityVerifier interface {
	VerifyToken(ctx context.Context, token string) (entity.Actor, error)
}
