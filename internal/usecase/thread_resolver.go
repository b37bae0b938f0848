package usecase

import (
	"context"
	"strings"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

// ThreadResolver maps an order and a counterparty onto a thread key and
// checks keys against the order's current mode.
type ThreadResolver struct {
	orderRepo repository.OrderRepository
}

func NewThreadResolver(orderRepo repository.OrderRepository) *ThreadResolver {
	return &ThreadResolver{
		orderRepo: orderRepo,
	}
}

// Resolve returns the key of the thread actor addresses on orderID. Active
// orders have one thread; bidding orders need the candidate tutor.
func (r *ThreadResolver) Resolve(ctx context.Context, orderID string, actor entity.Actor, tutorID string) (entity.ThreadKey, error) {
	orderID = strings.TrimSpace(orderID)
	tutorID = strings.TrimSpace(tutorID)
	if orderID == "" {
		return entity.ThreadKey{}, errors.Validation("order id is required")
	}

	order, err := r.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return entity.ThreadKey{}, err
	}

	// A tutor talks for themselves unless told otherwise.
	if tutorID == "" && actor.Role == entity.RoleTutor {
		tutorID = actor.ID
	}

	if order.Mode() == entity.ModeActive {
		if tutorID != "" && tutorID != order.AssignedTutorID {
			return entity.ThreadKey{}, errors.ModeMismatch(order.ID, "order is active with another tutor")
		}
		return entity.ActiveKey(order.ID), nil
	}

	if tutorID == "" {
		return entity.ThreadKey{}, errors.AmbiguousThread(order.ID)
	}
	return entity.BiddingKey(order.ID, tutorID), nil
}

// Verify checks that key can take new messages: its mode must match the
// order's current mode.
func (r *ThreadResolver) Verify(ctx context.Context, key entity.ThreadKey) (*entity.Thread, error) {
	order, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case key.Mode() != order.Mode() && order.Mode() == entity.ModeActive:
		return nil, errors.ModeMismatch(order.ID, "order has been assigned, bidding threads are read-only")
	case key.Mode() != order.Mode():
		return nil, errors.ModeMismatch(order.ID, "order has no assigned tutor")
	}
	return threadOf(key, order), nil
}

// Lookup checks that key can be read. Bidding threads of an order that has
// since been assigned stay readable.
func (r *ThreadResolver) Lookup(ctx context.Context, key entity.ThreadKey) (*entity.Thread, error) {
	order, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if key.Mode() == entity.ModeActive && order.Mode() != entity.ModeActive {
		return nil, errors.ModeMismatch(order.ID, "order has no assigned tutor")
	}
	return threadOf(key, order), nil
}

// Authorize reports whether actor may use thread. Clients see their own
// orders, tutors their own threads, admins everything.
func (r *ThreadResolver) Authorize(thread *entity.Thread, actor entity.Actor) error {
	switch actor.Role {
	case entity.RoleAdmin:
		return nil
	case entity.RoleClient:
		if actor.ID != "" && actor.ID == thread.ClientID {
			return nil
		}
	case entity.RoleTutor:
		if actor.ID != "" && actor.ID == thread.TutorID() {
			return nil
		}
	}
	return errors.Forbidden("You are not a participant of this thread", nil)
}

func (r *ThreadResolver) load(ctx context.Context, key entity.ThreadKey) (*entity.Order, error) {
	if key.IsZero() {
		return nil, errors.Validation("thread key is required")
	}
	return r.orderRepo.GetByID(ctx, key.OrderID)
}

func threadOf(key entity.ThreadKey, order *entity.Order) *entity.Thread {
	return &entity.Thread{
		Key:             key,
		ClientID:        order.ClientID,
		AssignedTutorID: order.AssignedTutorID,
	}
}
