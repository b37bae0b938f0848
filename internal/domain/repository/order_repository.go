package repository

import (
	"context"

	"tutorchat/internal/domain/entity"
)

// OrderRepository is the order directory the chat core reads from.
type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	ListByClient(ctx context.Context, clientID string) ([]*entity.Order, error)

	// AssignTutor moves a bidding order to active. It fails with CONFLICT
	// when the order already has a tutor.
	AssignTutor(ctx context.Context, orderID, tutorID string) (*entity.Order, error)
}
