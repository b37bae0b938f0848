package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/errors"
)

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, order *entity.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*entity.Order)
	return order, args.Error(1)
}

func (m *mockOrderRepository) ListByClient(ctx context.Context, clientID string) ([]*entity.Order, error) {
	args := m.Called(ctx, clientID)
	orders, _ := args.Get(0).([]*entity.Order)
	return orders, args.Error(1)
}

func (m *mockOrderRepository) AssignTutor(ctx context.Context, orderID, tutorID string) (*entity.Order, error) {
	args := m.Called(ctx, orderID, tutorID)
	order, _ := args.Get(0).(*entity.Order)
	return order, args.Error(1)
}

var (
	admin    = entity.Actor{ID: "A1", Role: entity.RoleAdmin}
	client1  = entity.Actor{ID: "C1", Role: entity.RoleClient}
	tutor1   = entity.Actor{ID: "T1", Role: entity.RoleTutor}
	tutor2   = entity.Actor{ID: "T2", Role: entity.RoleTutor}
	bidding  = &entity.Order{ID: "O123", ClientID: "C1", Status: entity.OrderStatusBidding}
	assigned = &entity.Order{ID: "O123", ClientID: "C1", AssignedTutorID: "T1", Status: entity.OrderStatusInProgress}
)

func resolverWith(order *entity.Order) (*ThreadResolver, *mockOrderRepository) {
	repo := new(mockOrderRepository)
	repo.On("GetByID", mock.Anything, order.ID).Return(order, nil)
	repo.On("GetByID", mock.Anything, mock.Anything).Return(nil, errors.NotFound("Order", nil))
	return NewThreadResolver(repo), repo
}

func TestResolveBiddingRequiresTutor(t *testing.T) {
	resolver, _ := resolverWith(bidding)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "O123", admin, "")
	assert.True(t, errors.Is(err, errors.CodeAmbiguousThread))

	first, err := resolver.Resolve(ctx, "O123", admin, "T1")
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "O123", admin, "T1")
	require.NoError(t, err)

	assert.Equal(t, entity.BiddingKey("O123", "T1"), first)
	assert.Equal(t, first, second)
}

func TestResolveTutorDefaultsToSelf(t *testing.T) {
	resolver, _ := resolverWith(bidding)

	key, err := resolver.Resolve(context.Background(), "O123", tutor2, "")
	require.NoError(t, err)
	assert.Equal(t, entity.BiddingKey("O123", "T2"), key)
}

func TestResolveActiveOrder(t *testing.T) {
	resolver, _ := resolverWith(assigned)
	ctx := context.Background()

	key, err := resolver.Resolve(ctx, "O123", client1, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ActiveKey("O123"), key)

	key, err = resolver.Resolve(ctx, "O123", admin, "T1")
	require.NoError(t, err)
	assert.Equal(t, entity.ActiveKey("O123"), key)

	_, err = resolver.Resolve(ctx, "O123", admin, "T2")
	assert.True(t, errors.Is(err, errors.CodeModeMismatch))
}

func TestResolveUnknownOrder(t *testing.T) {
	resolver, _ := resolverWith(bidding)

	_, err := resolver.Resolve(context.Background(), "missing", admin, "T1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = resolver.Resolve(context.Background(), "  ", admin, "T1")
	assert.True(t, errors.Is(err, errors.CodeValidation))
}

func TestVerifyAndLookupAfterAssignment(t *testing.T) {
	resolver, _ := resolverWith(assigned)
	ctx := context.Background()
	stale := entity.BiddingKey("O123", "T1")

	_, err := resolver.Verify(ctx, stale)
	assert.True(t, errors.Is(err, errors.CodeModeMismatch), "old bidding threads take no new messages")

	thread, err := resolver.Lookup(ctx, stale)
	require.NoError(t, err, "old bidding threads stay readable")
	assert.Equal(t, "C1", thread.ClientID)

	thread, err = resolver.Verify(ctx, entity.ActiveKey("O123"))
	require.NoError(t, err)
	assert.Equal(t, "T1", thread.TutorID())
}

func TestVerifyActiveKeyOnBiddingOrder(t *testing.T) {
	resolver, _ := resolverWith(bidding)

	_, err := resolver.Verify(context.Background(), entity.ActiveKey("O123"))
	assert.True(t, errors.Is(err, errors.CodeModeMismatch))

	_, err = resolver.Lookup(context.Background(), entity.ActiveKey("O123"))
	assert.True(t, errors.Is(err, errors.CodeModeMismatch))
}

func TestAuthorize(t *testing.T) {
	resolver, _ := resolverWith(bidding)
	thread := &entity.Thread{Key: entity.BiddingKey("O123", "T1"), ClientID: "C1"}

	assert.NoError(t, resolver.Authorize(thread, admin))
	assert.NoError(t, resolver.Authorize(thread, client1))
	assert.NoError(t, resolver.Authorize(thread, tutor1))

	err := resolver.Authorize(thread, tutor2)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	err = resolver.Authorize(thread, entity.Actor{ID: "C2", Role: entity.RoleClient})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	active := &entity.Thread{Key: entity.ActiveKey("O123"), ClientID: "C1", AssignedTutorID: "T1"}
	assert.NoError(t, resolver.Authorize(active, tutor1))
	assert.Error(t, resolver.Authorize(active, tutor2))
}
