package usecase

import (
	"context"
	"strings"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

type OrderUseCase struct {
	orderRepo repository.OrderRepository
	tutorRepo repository.TutorRepository
}

func NewOrderUseCase(orderRepo repository.OrderRepository, tutorRepo repository.TutorRepository) *OrderUseCase {
	return &OrderUseCase{
		orderRepo: orderRepo,
		tutorRepo: tutorRepo,
	}
}

// AssignTutor ends bidding: the order gets its tutor and from then on has a
// single active thread. Candidate threads stay readable.
func (uc *OrderUseCase) AssignTutor(ctx context.Context, orderID, tutorID string) (*entity.Order, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, errors.Validation("tutor_id is required")
	}

	if _, err := uc.tutorRepo.GetByID(ctx, tutorID); err != nil {
		return nil, err
	}

	order, err := uc.orderRepo.AssignTutor(ctx, orderID, tutorID)
	if err != nil {
		return nil, err
	}

	logger.Info("Order %s assigned to tutor %s", order.ID, tutorID)
	return order, nil
}

func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	return uc.orderRepo.GetByID(ctx, orderID)
}

func (uc *OrderUseCase) ListTutors(ctx context.Context) ([]*entity.Tutor, error) {
	return uc.tutorRepo.List(ctx)
}

func (uc *OrderUseCase) GetTutor(ctx context.Context, tutorID string) (*entity.Tutor, error) {
	return uc.tutorRepo.GetByID(ctx, tutorID)
}
