package repository

import (
	"context"

	"tutorchat/internal/domain/entity"
)

type TutorRepository interface {
	Create(ctx context.Context, tutor *entity.Tutor) error
	GetByID(ctx context.Context, id string) (*entity.Tutor, error)
	List(ctx context.Context) ([]*entity.Tutor, error)
}
