package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/errors"
)

// RoleClaim is the custom claim carrying the acting role.
const RoleClaim = "role"

type authBackend interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	CustomTokenWithClaims(ctx context.Context, uid string, devClaims map[string]interface{}) (string, error)
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
}

type FirebaseAuthClient struct {
	client authBackend
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken checks an ID token and reads the role claim. Tokens without
// one act as clients.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (entity.Actor, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return entity.Actor{}, errors.Unauthorized("Invalid or expired token", err)
	}

	role := entity.RoleClient
	if raw, ok := result.Claims[RoleClaim]; ok {
		s, _ := raw.(string)
		role = entity.Role(s)
	}
	if !role.Valid() {
		return entity.Actor{}, errors.Unauthorized(fmt.Sprintf("Unknown role %q", role), nil)
	}

	return entity.Actor{ID: result.UID, Role: role}, nil
}

// GenerateToken mints a custom token carrying role, for development sign-in.
func (f *FirebaseAuthClient) GenerateToken(ctx context.Context, uid string, role entity.Role) (string, error) {
	if !role.Valid() {
		return "", errors.Validation(fmt.Sprintf("unknown role %q", role))
	}

	token, err := f.client.CustomTokenWithClaims(ctx, uid, map[string]interface{}{RoleClaim: string(role)})
	if err != nil {
		return "", errors.Internal("Failed to generate token", err)
	}

	return token, nil
}

// SetRole stores role on the user so that ID tokens issued afterwards carry it.
func (f *FirebaseAuthClient) SetRole(ctx context.Context, uid string, role entity.Role) error {
	if !role.Valid() {
		return errors.Validation(fmt.Sprintf("unknown role %q", role))
	}

	if err := f.client.SetCustomUserClaims(ctx, uid, map[string]interface{}{RoleClaim: string(role)}); err != nil {
		return errors.Internal("Failed to update user role", err)
	}

	return nil
}
