package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

type firestoreTutorRepository struct {
	client *firestore.Client
}

func NewFirestoreTutorRepository(client *firestore.Client) repository.TutorRepository {
	return &firestoreTutorRepository{
		client: client,
	}
}

func (r *firestoreTutorRepository) Create(ctx context.Context, tutor *entity.Tutor) error {
	if tutor.CreatedAt.IsZero() {
		tutor.CreatedAt = time.Now()
	}
	_, err := r.client.Collection("tutors").Doc(tutor.ID).Set(ctx, tutor)
	if err != nil {
		return errors.Internal("Failed to create tutor", err)
	}
	return nil
}

func (r *firestoreTutorRepository) GetByID(ctx context.Context, id string) (*entity.Tutor, error) {
	doc, err := r.client.Collection("tutors").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Tutor", err)
		}
		return nil, errors.Internal("Failed to get tutor", err)
	}

	var tutor entity.Tutor
	if err := doc.DataTo(&tutor); err != nil {
		return nil, errors.Internal("Failed to parse tutor", err)
	}
	return &tutor, nil
}

func (r *firestoreTutorRepository) List(ctx context.Context) ([]*entity.Tutor, error) {
	docs, err := r.client.Collection("tutors").OrderBy("name", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Internal("Failed to list tutors", err)
	}

	tutors := make([]*entity.Tutor, 0, len(docs))
	for _, doc := range docs {
		var tutor entity.Tutor
		if err := doc.DataTo(&tutor); err != nil {
			return nil, errors.Internal("Failed to parse tutor", err)
		}
		tutors = append(tutors, &tutor)
	}
	return tutors, nil
}
