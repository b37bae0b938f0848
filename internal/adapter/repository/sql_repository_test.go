package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/errors"
)

func setupTestSQL(t *testing.T) *SQLStore {
	t.Helper()

	store, err := NewSQLStore("sqlite", ":memory:", 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLMigrationsAreIdempotent(t *testing.T) {
	store := setupTestSQL(t)

	require.NoError(t, store.runMigrations(context.Background()))

	var versions int
	require.NoError(t, store.db.Get(&versions, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, len(sqlMigrations), versions)
}

func TestSQLDriverName(t *testing.T) {
	name, err := sqlDriverName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", name)

	name, err = sqlDriverName("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", name)

	_, err = sqlDriverName("oracle")
	assert.Error(t, err)
}

func TestSQLMessageAppendAndList(t *testing.T) {
	repo := NewSQLMessageRepository(setupTestSQL(t))
	ctx := context.Background()
	key := entity.BiddingKey("O123", "T1")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, key, testMessage(key, 3, base.Add(time.Minute), "third")))
	require.NoError(t, repo.Append(ctx, key, testMessage(key, 2, base, "second")))
	require.NoError(t, repo.Append(ctx, key, testMessage(key, 1, base, "first")))

	messages, err := repo.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)
	assert.Equal(t, "third", messages[2].Body)
	assert.Equal(t, entity.RoleClient, messages[0].SenderRole)
	assert.True(t, base.Equal(messages[0].CreatedAt))

	other, err := repo.List(ctx, entity.ActiveKey("O123"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLMessageConcurrentAppendsAllSurvive(t *testing.T) {
	repo := NewSQLMessageRepository(setupTestSQL(t))
	ctx := context.Background()
	key := entity.ActiveKey("O1")
	now := time.Now().UTC()

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Append(ctx, key, testMessage(key, int64(i+1), now, fmt.Sprintf("msg-%d", i))))
		}(i)
	}
	wg.Wait()

	messages, err := repo.List(ctx, key)
	require.NoError(t, err)
	assert.Len(t, messages, senders)
}

func TestSQLMessageSubscribePolls(t *testing.T) {
	repo := NewSQLMessageRepository(setupTestSQL(t))
	ctx := context.Background()
	key := entity.ActiveKey("O1")
	now := time.Now().UTC()

	var mu sync.Mutex
	var latest []*entity.Message
	calls := 0
	cancel, err := repo.Subscribe(ctx, key, func(msgs []*entity.Message) {
		mu.Lock()
		defer mu.Unlock()
		latest = msgs
		calls++
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1 && len(latest) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.Append(ctx, key, testMessage(key, 1, now, "hello")))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	before := calls
	mu.Unlock()

	require.NoError(t, repo.Append(ctx, key, testMessage(key, 2, now, "ignored")))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, calls)
}

func TestSQLRecordDeliveryAndMarkRead(t *testing.T) {
	repo := NewSQLNotificationRepository(setupTestSQL(t))
	ctx := context.Background()
	thread := biddingThread("O123", "T1", "C1")

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleAdmin))
	_, err := repo.Get(ctx, thread.Key)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))

	entry, err := repo.Get(ctx, thread.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AdminUnread)
	assert.False(t, entry.AdminRead)
	assert.Equal(t, 0, entry.ClientUnread)
	assert.True(t, entry.ClientRead)
	assert.Equal(t, entity.ModeBidding, entry.Mode)
	assert.Equal(t, thread.Key, entry.Key)

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleTutor))
	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleTutor))

	entry, err = repo.Get(ctx, thread.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.AdminUnread)
	assert.True(t, entry.AdminRead)

	// A reply from the tutor only reaches the client.
	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleTutor))
	clientUnread, err := repo.UnreadCount(ctx, thread.Key, entity.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 1, clientUnread)
	adminUnread, err := repo.UnreadCount(ctx, thread.Key, entity.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, adminUnread)
}

func TestSQLRecordDeliveryConcurrentIncrements(t *testing.T) {
	repo := NewSQLNotificationRepository(setupTestSQL(t))
	ctx := context.Background()
	thread := &entity.Thread{Key: entity.ActiveKey("O1"), ClientID: "C1", AssignedTutorID: "T1"}

	const deliveries = 25
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))
		}()
	}
	wg.Wait()

	count, err := repo.UnreadCount(ctx, thread.Key, entity.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, deliveries, count)
}

func TestSQLAggregateUnreadByScope(t *testing.T) {
	repo := NewSQLNotificationRepository(setupTestSQL(t))
	ctx := context.Background()
	t1 := biddingThread("O123", "T1", "C1")
	t2 := biddingThread("O123", "T2", "C1")
	active := &entity.Thread{Key: entity.ActiveKey("O9"), ClientID: "C2", AssignedTutorID: "T1"}

	require.NoError(t, repo.RecordDelivery(ctx, t1, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, t2, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, t2, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, active, entity.RoleClient))

	total, err := repo.AggregateUnread(ctx, entity.RoleAdmin, entity.NotificationScope{Mode: entity.ModeBidding})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	require.NoError(t, repo.MarkRead(ctx, t1.Key, entity.RoleAdmin))
	total, err = repo.AggregateUnread(ctx, entity.RoleAdmin, entity.NotificationScope{Mode: entity.ModeBidding})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	tutorTotal, err := repo.AggregateUnread(ctx, entity.RoleTutor, entity.NotificationScope{TutorID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, 1, tutorTotal)

	entries, err := repo.List(ctx, entity.NotificationScope{ClientID: "C1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "T1", entries[0].Key.TutorID)
}

func TestSQLNotificationSubscribeFiltersByScope(t *testing.T) {
	repo := NewSQLNotificationRepository(setupTestSQL(t))
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	cancel, err := repo.Subscribe(ctx, entity.NotificationScope{ClientID: "C1"}, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, repo.RecordDelivery(ctx, biddingThread("O2", "T1", "C2"), entity.RoleTutor))
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()

	require.NoError(t, repo.RecordDelivery(ctx, biddingThread("O1", "T1", "C1"), entity.RoleTutor))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSQLOrderAssignTutor(t *testing.T) {
	store := setupTestSQL(t)
	orders := NewSQLOrderRepository(store)
	ctx := context.Background()

	require.NoError(t, orders.Create(ctx, &entity.Order{ID: "O1", ClientID: "C1", Status: entity.OrderStatusBidding, Title: "Calculus"}))

	order, err := orders.GetByID(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, entity.ModeBidding, order.Mode())

	order, err = orders.AssignTutor(ctx, "O1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", order.AssignedTutorID)
	assert.Equal(t, entity.OrderStatusInProgress, order.Status)

	_, err = orders.AssignTutor(ctx, "O1", "T2")
	assert.True(t, errors.Is(err, errors.CodeConflict))

	_, err = orders.AssignTutor(ctx, "missing", "T1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	list, err := orders.ListByClient(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "T1", list[0].AssignedTutorID)
}

func TestSQLTutorRepository(t *testing.T) {
	tutors := NewSQLTutorRepository(setupTestSQL(t))
	ctx := context.Background()

	require.NoError(t, tutors.Create(ctx, &entity.Tutor{ID: "T2", Name: "Zed", Rating: 4.5}))
	require.NoError(t, tutors.Create(ctx, &entity.Tutor{ID: "T1", Name: "Ann", Subjects: []string{"math", "physics"}}))

	tutor, err := tutors.GetByID(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"math", "physics"}, tutor.Subjects)

	list, err := tutors.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ann", list[0].Name)

	_, err = tutors.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
