package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/internal/domain/entity"
	"tutorchat/pkg/errors"
)

// These tests need the Firestore emulator (firebase emulators:start).
func setupTestFirestore(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	project := fmt.Sprintf("tutorchat-test-%d", time.Now().UnixNano())
	client, err := firestore.NewClient(context.Background(), project)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestFirestoreMessageAppendAndList(t *testing.T) {
	repo := NewFirestoreMessageRepository(setupTestFirestore(t))
	ctx := context.Background()
	key := entity.BiddingKey("O123", "T1")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, key, testMessage(key, 2, base.Add(time.Minute), "second")))
	require.NoError(t, repo.Append(ctx, key, testMessage(key, 1, base, "first")))

	messages, err := repo.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Body)

	err = repo.Append(ctx, key, testMessage(key, 1, base, "dup"))
	assert.True(t, errors.Is(err, errors.CodeConflict))
}

func TestFirestoreLedgerRoundTrip(t *testing.T) {
	repo := NewFirestoreNotificationRepository(setupTestFirestore(t))
	ctx := context.Background()
	thread := biddingThread("O123", "T1", "C1")

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleAdmin))

	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))

	entry, err := repo.Get(ctx, thread.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AdminUnread)
	assert.Equal(t, 0, entry.ClientUnread)
	assert.True(t, entry.ClientRead)

	total, err := repo.AggregateUnread(ctx, entity.RoleAdmin, entity.NotificationScope{Mode: entity.ModeBidding})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleTutor))
	count, err := repo.UnreadCount(ctx, thread.Key, entity.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFirestoreRecordDeliveryConcurrentIncrements(t *testing.T) {
	repo := NewFirestoreNotificationRepository(setupTestFirestore(t))
	ctx := context.Background()
	thread := &entity.Thread{Key: entity.ActiveKey("O1"), ClientID: "C1", AssignedTutorID: "T1"}

	const deliveries = 10
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleTutor))
		}()
	}
	wg.Wait()

	count, err := repo.UnreadCount(ctx, thread.Key, entity.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, deliveries, count)

	count, err = repo.UnreadCount(ctx, thread.Key, entity.RoleTutor)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFirestoreMarkReadIsIdempotentAndMissingIsNoop(t *testing.T) {
	repo := NewFirestoreNotificationRepository(setupTestFirestore(t))
	ctx := context.Background()
	thread := biddingThread("O1", "T1", "C1")

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleAdmin))
	_, err := repo.Get(ctx, thread.Key)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "mark-read must not create an entry")

	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))
	require.NoError(t, repo.RecordDelivery(ctx, thread, entity.RoleClient))

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleAdmin))
	once, err := repo.Get(ctx, thread.Key)
	require.NoError(t, err)

	require.NoError(t, repo.MarkRead(ctx, thread.Key, entity.RoleAdmin))
	twice, err := repo.Get(ctx, thread.Key)
	require.NoError(t, err)

	assert.True(t, twice.AdminRead)
	assert.Equal(t, 0, twice.AdminUnread)
	assert.Equal(t, once.AdminRead, twice.AdminRead)
	assert.Equal(t, once.AdminUnread, twice.AdminUnread)
	assert.Equal(t, once.ClientUnread, twice.ClientUnread)
}

func TestFirestoreAssignTutor(t *testing.T) {
	repo := NewFirestoreOrderRepository(setupTestFirestore(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &entity.Order{ID: "O1", ClientID: "C1", Status: entity.OrderStatusBidding}))

	order, err := repo.AssignTutor(ctx, "O1", "T1")
	require.NoError(t, err)
	assert.Equal(t, entity.ModeActive, order.Mode())

	_, err = repo.AssignTutor(ctx, "O1", "T2")
	assert.True(t, errors.Is(err, errors.CodeConflict))

	_, err = repo.AssignTutor(ctx, "missing", "T1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
