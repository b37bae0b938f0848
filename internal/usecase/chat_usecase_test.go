package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorchat/internal/adapter/repository"
	"tutorchat/internal/domain/entity"
	domainrepo "tutorchat/internal/domain/repository"
	"tutorchat/internal/infrastructure/ratelimit"
	"tutorchat/pkg/errors"
)

type fixture struct {
	chat     *ChatUseCase
	orders   *OrderUseCase
	orderDir domainrepo.OrderRepository
	messages domainrepo.MessageRepository
	ledger   domainrepo.NotificationRepository
}

// newFixture wires the pipeline to Redis (miniredis) for chat state and an
// in-memory SQLite directory. O123 is bidding for C1; O9 is active for C2
// with T1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := miniredis.RunT(t)
	redisClient, err := repository.NewRedisClient(ctx, "redis://"+s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	store, err := repository.NewSQLStore("sqlite", ":memory:", 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orderRepo := repository.NewSQLOrderRepository(store)
	tutorRepo := repository.NewSQLTutorRepository(store)
	require.NoError(t, tutorRepo.Create(ctx, &entity.Tutor{ID: "T1", Name: "Ann"}))
	require.NoError(t, tutorRepo.Create(ctx, &entity.Tutor{ID: "T2", Name: "Ben"}))
	require.NoError(t, orderRepo.Create(ctx, &entity.Order{ID: "O123", ClientID: "C1", Status: entity.OrderStatusBidding}))
	require.NoError(t, orderRepo.Create(ctx, &entity.Order{ID: "O9", ClientID: "C2", AssignedTutorID: "T1", Status: entity.OrderStatusInProgress}))

	messages := repository.NewRedisMessageRepository(redisClient)
	ledger := repository.NewRedisNotificationRepository(redisClient)

	return &fixture{
		chat:     NewChatUseCase(NewThreadResolver(orderRepo), orderRepo, tutorRepo, messages, ledger, nil),
		orders:   NewOrderUseCase(orderRepo, tutorRepo),
		orderDir: orderRepo,
		messages: messages,
		ledger:   ledger,
	}
}

func (f *fixture) send(t *testing.T, key entity.ThreadKey, sender entity.Actor, body string) *entity.Message {
	t.Helper()
	m, err := f.chat.Send(context.Background(), SendMessageInput{Key: key, Sender: sender, Body: body})
	require.NoError(t, err)
	return m
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) AddPending(m *entity.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "pending:"+m.Body)
}

func (r *recordingTracker) Confirm(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "confirm")
}

func (r *recordingTracker) Rollback(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "rollback")
}

func TestSendRejectsBlankBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := entity.BiddingKey("O123", "T1")
	tracker := &recordingTracker{}

	for _, body := range []string{"", "   ", "\n\t "} {
		_, err := f.chat.Send(ctx, SendMessageInput{Key: key, Sender: client1, Body: body, Tracker: tracker})
		assert.True(t, errors.Is(err, errors.CodeValidation))
	}

	messages, err := f.messages.List(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = f.ledger.Get(ctx, key)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.Empty(t, tracker.events)
}

func TestSendTrimsAndNotifiesCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := entity.BiddingKey("O123", "T1")
	tracker := &recordingTracker{}

	m, err := f.chat.Send(ctx, SendMessageInput{Key: key, Sender: client1, Body: "  Hello  ", Tracker: tracker})
	require.NoError(t, err)
	assert.Equal(t, "Hello", m.Body)
	assert.False(t, m.Pending)
	assert.Equal(t, []string{"pending:Hello", "confirm"}, tracker.events)

	own, err := f.chat.UnreadCount(ctx, key, client1)
	require.NoError(t, err)
	assert.Equal(t, 0, own, "the sender's own count never moves")

	theirs, err := f.chat.UnreadCount(ctx, key, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, theirs)
}

func TestAdminConsoleBiddingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := entity.BiddingKey("O123", "T1")
	t2 := entity.BiddingKey("O123", "T2")
	biddingScope := entity.NotificationScope{Mode: entity.ModeBidding}

	f.send(t, t2, client1, "Are you free?")
	before, err := f.chat.AggregateUnread(ctx, admin, biddingScope)
	require.NoError(t, err)

	f.send(t, t1, client1, "Hello")
	after, err := f.chat.AggregateUnread(ctx, admin, biddingScope)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	_, err = f.chat.Open(ctx, t1, admin)
	require.NoError(t, err)

	t1Count, err := f.chat.UnreadCount(ctx, t1, admin)
	require.NoError(t, err)
	assert.Equal(t, 0, t1Count)

	t2Count, err := f.chat.UnreadCount(ctx, t2, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, t2Count, "opening T1 leaves T2 alone")

	final, err := f.chat.AggregateUnread(ctx, admin, biddingScope)
	require.NoError(t, err)
	assert.Equal(t, before, final)
}

func TestBiddingToActiveTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := entity.BiddingKey("O123", "T1")

	f.send(t, old, client1, "Hello")

	_, err := f.chat.ResolveThread(ctx, "O123", admin, "")
	assert.True(t, errors.Is(err, errors.CodeAmbiguousThread))

	_, err = f.orders.AssignTutor(ctx, "O123", "T1")
	require.NoError(t, err)

	thread, err := f.chat.ResolveThread(ctx, "O123", admin, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ActiveKey("O123"), thread.Key)

	history, err := f.chat.GetMessages(ctx, old, client1)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = f.chat.Send(ctx, SendMessageInput{Key: old, Sender: client1, Body: "still there?"})
	assert.True(t, errors.Is(err, errors.CodeModeMismatch))

	history, err = f.chat.GetMessages(ctx, old, client1)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the old bidding thread receives no new messages")

	located, err := f.chat.LocateThread(ctx, "O123", client1, "T1", entity.ModeBidding)
	require.NoError(t, err)
	assert.Equal(t, old, located.Key)

	_, err = f.chat.LocateThread(ctx, "O123", client1, "", entity.ModeBidding)
	assert.True(t, errors.Is(err, errors.CodeAmbiguousThread))

	_, err = f.chat.LocateThread(ctx, "O123", client1, "T1", entity.ThreadMode("bidd"))
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	located, err = f.chat.LocateThread(ctx, "O123", client1, "", entity.ModeActive)
	require.NoError(t, err)
	assert.Equal(t, entity.ActiveKey("O123"), located.Key)

	f.send(t, entity.ActiveKey("O123"), tutor1, "Let's start")
	unread, err := f.chat.UnreadCount(ctx, entity.ActiveKey("O123"), client1)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestSendRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chat.Send(ctx, SendMessageInput{
		Key:    entity.BiddingKey("O123", "T1"),
		Sender: entity.Actor{ID: "C2", Role: entity.RoleClient},
		Body:   "hi",
	})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.chat.GetMessages(ctx, entity.BiddingKey("O123", "T1"), tutor2)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	f.chat.rateLimiter = ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(1),
	})
	key := entity.BiddingKey("O123", "T1")

	f.send(t, key, client1, "one")
	_, err := f.chat.Send(context.Background(), SendMessageInput{Key: key, Sender: client1, Body: "two"})
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))
}

func TestConcurrentSendsAllSurvive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := entity.ActiveKey("O9")

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := entity.Actor{ID: "C2", Role: entity.RoleClient}
			_, err := f.chat.Send(ctx, SendMessageInput{Key: key, Sender: sender, Body: fmt.Sprintf("msg %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	messages, err := f.messages.List(ctx, key)
	require.NoError(t, err)
	assert.Len(t, messages, senders)

	unread, err := f.chat.UnreadCount(ctx, key, tutor1)
	require.NoError(t, err)
	assert.Equal(t, senders, unread)
}

func TestListBiddingThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, entity.BiddingKey("O123", "T1"), client1, "first")
	f.send(t, entity.BiddingKey("O123", "T2"), tutor2, "offer")

	summaries, err := f.chat.ListBiddingThreads(ctx, "O123", admin)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byTutor := map[string]*BiddingThreadSummary{}
	for _, s := range summaries {
		byTutor[s.Tutor.ID] = s
	}
	assert.Equal(t, "Ann", byTutor["T1"].Tutor.Name)
	assert.Equal(t, 1, byTutor["T1"].Unread)
	assert.Equal(t, 0, byTutor["T2"].Unread)

	own, err := f.chat.ListBiddingThreads(ctx, "O123", tutor2)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "T2", own[0].Key.TutorID)

	_, err = f.chat.ListBiddingThreads(ctx, "O123", entity.Actor{ID: "C2", Role: entity.RoleClient})
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestAggregateUnreadScopedToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, entity.BiddingKey("O123", "T1"), tutor1, "hello C1")
	f.send(t, entity.ActiveKey("O9"), tutor1, "hello C2")

	count, err := f.chat.AggregateUnread(ctx, client1, entity.NotificationScope{ClientID: "C2"})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "a client only ever counts their own orders")

	_, err = f.chat.AggregateUnread(ctx, client1, entity.NotificationScope{Mode: "archived"})
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

type mockMessageRepository struct {
	mock.Mock
}

func (m *mockMessageRepository) Append(ctx context.Context, key entity.ThreadKey, message *entity.Message) error {
	return m.Called(ctx, key, message).Error(0)
}

func (m *mockMessageRepository) List(ctx context.Context, key entity.ThreadKey) ([]*entity.Message, error) {
	args := m.Called(ctx, key)
	messages, _ := args.Get(0).([]*entity.Message)
	return messages, args.Error(1)
}

func (m *mockMessageRepository) Subscribe(ctx context.Context, key entity.ThreadKey, onUpdate func([]*entity.Message)) (func(), error) {
	args := m.Called(ctx, key, onUpdate)
	cancel, _ := args.Get(0).(func())
	return cancel, args.Error(1)
}

type mockNotificationRepository struct {
	mock.Mock
}

func (m *mockNotificationRepository) RecordDelivery(ctx context.Context, thread *entity.Thread, sender entity.Role) error {
	return m.Called(ctx, thread, sender).Error(0)
}

func (m *mockNotificationRepository) MarkRead(ctx context.Context, key entity.ThreadKey, reader entity.Role) error {
	return m.Called(ctx, key, reader).Error(0)
}

func (m *mockNotificationRepository) Get(ctx context.Context, key entity.ThreadKey) (*entity.NotificationEntry, error) {
	args := m.Called(ctx, key)
	entry, _ := args.Get(0).(*entity.NotificationEntry)
	return entry, args.Error(1)
}

func (m *mockNotificationRepository) UnreadCount(ctx context.Context, key entity.ThreadKey, reader entity.Role) (int, error) {
	args := m.Called(ctx, key, reader)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationRepository) AggregateUnread(ctx context.Context, reader entity.Role, scope entity.NotificationScope) (int, error) {
	args := m.Called(ctx, reader, scope)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationRepository) List(ctx context.Context, scope entity.NotificationScope) ([]*entity.NotificationEntry, error) {
	args := m.Called(ctx, scope)
	entries, _ := args.Get(0).([]*entity.NotificationEntry)
	return entries, args.Error(1)
}

func (m *mockNotificationRepository) Subscribe(ctx context.Context, scope entity.NotificationScope, onChange func()) (func(), error) {
	args := m.Called(ctx, scope, onChange)
	cancel, _ := args.Get(0).(func())
	return cancel, args.Error(1)
}

func TestSendAppendFailureRollsBack(t *testing.T) {
	resolver, _ := resolverWith(bidding)
	messages := new(mockMessageRepository)
	ledger := new(mockNotificationRepository)
	messages.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(stderrors.New("connection reset"))

	uc := NewChatUseCase(resolver, nil, nil, messages, ledger, nil)
	tracker := &recordingTracker{}

	_, err := uc.Send(context.Background(), SendMessageInput{
		Key:     entity.BiddingKey("O123", "T1"),
		Sender:  client1,
		Body:    "Hello",
		Tracker: tracker,
	})

	require.Error(t, err)
	appErr := errors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.CodeTransientStore, appErr.Code)
	assert.True(t, appErr.Retryable)
	assert.Equal(t, []string{"pending:Hello", "rollback"}, tracker.events)

	messages.AssertNumberOfCalls(t, "Append", 1)
	ledger.AssertNotCalled(t, "RecordDelivery", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendLedgerFailureKeepsMessage(t *testing.T) {
	resolver, _ := resolverWith(bidding)
	messages := new(mockMessageRepository)
	ledger := new(mockNotificationRepository)
	messages.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ledger.On("RecordDelivery", mock.Anything, mock.Anything, entity.RoleClient).Return(stderrors.New("timeout"))

	uc := NewChatUseCase(resolver, nil, nil, messages, ledger, nil)
	uc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	tracker := &recordingTracker{}

	m, err := uc.Send(context.Background(), SendMessageInput{
		Key:     entity.BiddingKey("O123", "T1"),
		Sender:  client1,
		Body:    "Hello",
		Tracker: tracker,
	})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), m.CreatedAt)
	assert.Equal(t, "T1", m.TutorID)
	assert.Equal(t, []string{"pending:Hello", "confirm"}, tracker.events)
}

func TestOpenMarksReadOnce(t *testing.T) {
	resolver, _ := resolverWith(bidding)
	ledger := new(mockNotificationRepository)
	key := entity.BiddingKey("O123", "T1")
	ledger.On("MarkRead", mock.Anything, key, entity.RoleAdmin).Return(nil).Once()

	uc := NewChatUseCase(resolver, nil, nil, nil, ledger, nil)

	thread, err := uc.Open(context.Background(), key, admin)
	require.NoError(t, err)
	assert.Equal(t, key, thread.Key)
	ledger.AssertExpectations(t)
}
