package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

type firestoreOrderRepository struct {
	client *firestore.Client
}

func NewFirestoreOrderRepository(client *firestore.Client) repository.OrderRepository {
	return &firestoreOrderRepository{
		client: client,
	}
}

func (r *firestoreOrderRepository) Create(ctx context.Context, order *entity.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := r.client.Collection("orders").Doc(order.ID).Set(ctx, order)
	if err != nil {
		return errors.Internal("Failed to create order", err)
	}
	return nil
}

func (r *firestoreOrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	doc, err := r.client.Collection("orders").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Order", err)
		}
		return nil, errors.Internal("Failed to get order", err)
	}

	var order entity.Order
	if err := doc.DataTo(&order); err != nil {
		return nil, errors.Internal("Failed to parse order", err)
	}
	return &order, nil
}

func (r *firestoreOrderRepository) ListByClient(ctx context.Context, clientID string) ([]*entity.Order, error) {
	iter := r.client.Collection("orders").
		Where("clientId", "==", clientID).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var orders []*entity.Order
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to list orders", err)
		}

		var order entity.Order
		if err := doc.DataTo(&order); err != nil {
			return nil, errors.Internal("Failed to parse order", err)
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

func (r *firestoreOrderRepository) AssignTutor(ctx context.Context, orderID, tutorID string) (*entity.Order, error) {
	ref := r.client.Collection("orders").Doc(orderID)
	var assigned entity.Order

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Order", err)
			}
			return err
		}

		if err := doc.DataTo(&assigned); err != nil {
			return err
		}
		if assigned.AssignedTutorID != "" {
			return errors.Conflict("Order already has an assigned tutor")
		}

		assigned.AssignedTutorID = tutorID
		assigned.Status = entity.OrderStatusInProgress
		assigned.UpdatedAt = time.Now()

		return tx.Update(ref, []firestore.Update{
			{Path: "assignedTutorId", Value: assigned.AssignedTutorID},
			{Path: "status", Value: assigned.Status},
			{Path: "updatedAt", Value: assigned.UpdatedAt},
		})
	})
	if err != nil {
		if appErr := errors.As(err); appErr != nil {
			return nil, appErr
		}
		return nil, errors.Internal("Failed to assign tutor", err)
	}
	return &assigned, nil
}
