package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

type firestoreNotification struct {
	OrderID      string    `firestore:"orderId"`
	KeyTutorID   string    `firestore:"keyTutorId"`
	ClientID     string    `firestore:"clientId"`
	TutorID      string    `firestore:"tutorId"`
	Mode         string    `firestore:"mode"`
	ClientRead   bool      `firestore:"clientRead"`
	ClientUnread int64     `firestore:"clientUnread"`
	AdminRead    bool      `firestore:"adminRead"`
	AdminUnread  int64     `firestore:"adminUnread"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (n *firestoreNotification) toEntity() *entity.NotificationEntry {
	return &entity.NotificationEntry{
		Key:          entity.ThreadKey{OrderID: n.OrderID, TutorID: n.KeyTutorID},
		ClientID:     n.ClientID,
		TutorID:      n.TutorID,
		Mode:         entity.ThreadMode(n.Mode),
		ClientRead:   n.ClientRead,
		ClientUnread: int(n.ClientUnread),
		AdminRead:    n.AdminRead,
		AdminUnread:  int(n.AdminUnread),
		UpdatedAt:    n.UpdatedAt,
	}
}

type firestoreNotificationRepository struct {
	client *firestore.Client
}

func NewFirestoreNotificationRepository(client *firestore.Client) repository.NotificationRepository {
	return &firestoreNotificationRepository{
		client: client,
	}
}

func (r *firestoreNotificationRepository) ref(key entity.ThreadKey) *firestore.DocumentRef {
	return r.client.Collection("notifications").Doc(threadDocID(key))
}

func (r *firestoreNotificationRepository) RecordDelivery(ctx context.Context, thread *entity.Thread, sender entity.Role) error {
	ref := r.ref(thread.Key)
	recv := sender.Counterpart()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		now := time.Now()
		if snap == nil || !snap.Exists() {
			doc := &firestoreNotification{
				OrderID:    thread.Key.OrderID,
				KeyTutorID: thread.Key.TutorID,
				ClientID:   thread.ClientID,
				TutorID:    thread.TutorID(),
				Mode:       string(thread.Key.Mode()),
				ClientRead: true,
				AdminRead:  true,
				UpdatedAt:  now,
			}
			if recv == entity.SideClient {
				doc.ClientRead, doc.ClientUnread = false, 1
			} else {
				doc.AdminRead, doc.AdminUnread = false, 1
			}
			return tx.Create(ref, doc)
		}

		return tx.Update(ref, []firestore.Update{
			{Path: unreadField(recv), Value: firestore.Increment(1)},
			{Path: readField(recv), Value: false},
			{Path: "tutorId", Value: thread.TutorID()},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return errors.Internal("Failed to record delivery", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) MarkRead(ctx context.Context, key entity.ThreadKey, reader entity.Role) error {
	side := reader.Side()
	_, err := r.ref(key).Update(ctx, []firestore.Update{
		{Path: readField(side), Value: true},
		{Path: unreadField(side), Value: 0},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return errors.Internal("Failed to mark thread as read", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) Get(ctx context.Context, key entity.ThreadKey) (*entity.NotificationEntry, error) {
	doc, err := r.ref(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Notification entry", err)
		}
		return nil, errors.Internal("Failed to get notification entry", err)
	}

	var n firestoreNotification
	if err := doc.DataTo(&n); err != nil {
		return nil, errors.Internal("Failed to parse notification entry", err)
	}
	return n.toEntity(), nil
}

func (r *firestoreNotificationRepository) UnreadCount(ctx context.Context, key entity.ThreadKey, reader entity.Role) (int, error) {
	entry, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Unread(reader.Side()), nil
}

func (r *firestoreNotificationRepository) AggregateUnread(ctx context.Context, reader entity.Role, scope entity.NotificationScope) (int, error) {
	entries, err := r.List(ctx, scope)
	if err != nil {
		return 0, err
	}

	side := reader.Side()
	total := 0
	for _, e := range entries {
		total += e.Unread(side)
	}
	return total, nil
}

func (r *firestoreNotificationRepository) scopeQuery(scope entity.NotificationScope) firestore.Query {
	query := r.client.Collection("notifications").Query
	if scope.ClientID != "" {
		query = query.Where("clientId", "==", scope.ClientID)
	}
	if scope.TutorID != "" {
		query = query.Where("tutorId", "==", scope.TutorID)
	}
	if scope.Mode != "" {
		query = query.Where("mode", "==", string(scope.Mode))
	}
	return query
}

func (r *firestoreNotificationRepository) List(ctx context.Context, scope entity.NotificationScope) ([]*entity.NotificationEntry, error) {
	docs, err := r.scopeQuery(scope).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Internal("Failed to list notification entries", err)
	}

	entries := make([]*entity.NotificationEntry, 0, len(docs))
	for _, doc := range docs {
		var n firestoreNotification
		if err := doc.DataTo(&n); err != nil {
			logger.Warn("Skipping malformed notification entry %s: %v", doc.Ref.ID, err)
			continue
		}
		entries = append(entries, n.toEntity())
	}

	sort.Slice(entries, func(i, j int) bool {
		return threadDocID(entries[i].Key) < threadDocID(entries[j].Key)
	})
	return entries, nil
}

func (r *firestoreNotificationRepository) Subscribe(ctx context.Context, scope entity.NotificationScope, onChange func()) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	snapshots := r.scopeQuery(scope).Snapshots(subCtx)

	// The first snapshot only establishes the listener.
	if _, err := snapshots.Next(); err != nil {
		snapshots.Stop()
		cancel()
		return nil, errors.Internal("Failed to listen to notifications", err)
	}

	go func() {
		defer snapshots.Stop()
		for {
			if _, err := snapshots.Next(); err != nil {
				if subCtx.Err() == nil && status.Code(err) != codes.Canceled {
					logger.Error("Notification listener stopped: %v", err)
				}
				return
			}
			if subCtx.Err() != nil {
				return
			}
			onChange()
		}
	}()

	return cancel, nil
}
