package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

const orderColumns = "id, client_id, assigned_tutor_id, status, title, created_at, updated_at"

type sqlOrderRepository struct {
	store *SQLStore
}

func NewSQLOrderRepository(store *SQLStore) repository.OrderRepository {
	return &sqlOrderRepository{
		store: store,
	}
}

func (r *sqlOrderRepository) Create(ctx context.Context, order *entity.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.ClientID, order.AssignedTutorID, string(order.Status),
		order.Title, order.CreatedAt.UTC(), order.UpdatedAt,
	)
	if err != nil {
		return errors.Internal("Failed to create order", err)
	}
	return nil
}

func (r *sqlOrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	var order entity.Order
	err := r.store.db.GetContext(ctx, &order, r.store.rebind(
		"SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("Order", err)
		}
		return nil, errors.Internal("Failed to get order", err)
	}
	return &order, nil
}

func (r *sqlOrderRepository) ListByClient(ctx context.Context, clientID string) ([]*entity.Order, error) {
	var orders []*entity.Order
	err := r.store.db.SelectContext(ctx, &orders, r.store.rebind(
		"SELECT "+orderColumns+" FROM orders WHERE client_id = ? ORDER BY created_at DESC"), clientID)
	if err != nil {
		return nil, errors.Internal("Failed to list orders", err)
	}
	return orders, nil
}

func (r *sqlOrderRepository) AssignTutor(ctx context.Context, orderID, tutorID string) (*entity.Order, error) {
	tx, err := r.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Internal("Failed to assign tutor", err)
	}
	defer tx.Rollback()

	// The guard on assigned_tutor_id makes the assignment happen at most once.
	res, err := tx.ExecContext(ctx, r.store.rebind(`
		UPDATE orders SET assigned_tutor_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND assigned_tutor_id = ''`),
		tutorID, string(entity.OrderStatusInProgress), time.Now().UTC(), orderID,
	)
	if err != nil {
		return nil, errors.Internal("Failed to assign tutor", err)
	}

	var order entity.Order
	err = tx.GetContext(ctx, &order, r.store.rebind(
		"SELECT "+orderColumns+" FROM orders WHERE id = ?"), orderID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("Order", err)
		}
		return nil, errors.Internal("Failed to assign tutor", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.Conflict("Order already has an assigned tutor")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Internal("Failed to assign tutor", err)
	}
	return &order, nil
}
