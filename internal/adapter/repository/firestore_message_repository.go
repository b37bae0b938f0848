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
	"tutorchat/pkg/logger"
)

// firestoreMessageRepository stores every message as its own document under
// threads/{thread}/messages, so concurrent appends never collide.
type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) threadRef(key entity.ThreadKey) *firestore.DocumentRef {
	return r.client.Collection("threads").Doc(threadDocID(key))
}

func (r *firestoreMessageRepository) messagesQuery(key entity.ThreadKey) firestore.Query {
	return r.threadRef(key).Collection("messages").
		OrderBy("createdAt", firestore.Asc).
		OrderBy("seq", firestore.Asc)
}

func (r *firestoreMessageRepository) Append(ctx context.Context, key entity.ThreadKey, message *entity.Message) error {
	threadRef := r.threadRef(key)
	msgRef := threadRef.Collection("messages").Doc(message.ID)
	stored := storedMessage(message)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(msgRef, stored); err != nil {
			return err
		}
		return tx.Set(threadRef, map[string]interface{}{
			"orderId":       key.OrderID,
			"tutorId":       key.TutorID,
			"mode":          string(key.Mode()),
			"lastMessage":   stored.Body,
			"lastMessageAt": stored.CreatedAt,
			"updatedAt":     time.Now(),
		}, firestore.MergeAll)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Message already exists")
		}
		return errors.Internal("Failed to append message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) List(ctx context.Context, key entity.ThreadKey) ([]*entity.Message, error) {
	iter := r.messagesQuery(key).Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			logger.Warn("Skipping malformed message %s in thread %s: %v", doc.Ref.ID, key, err)
			continue
		}
		messages = append(messages, &m)
	}

	entity.SortMessages(messages)
	return messages, nil
}

func (r *firestoreMessageRepository) Subscribe(ctx context.Context, key entity.ThreadKey, onUpdate func([]*entity.Message)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	snapshots := r.messagesQuery(key).Snapshots(subCtx)

	first, err := snapshots.Next()
	if err != nil {
		snapshots.Stop()
		cancel()
		return nil, errors.Internal("Failed to listen to thread", err)
	}
	initial, err := decodeMessageSnapshot(first)
	if err != nil {
		snapshots.Stop()
		cancel()
		return nil, err
	}

	go func() {
		defer snapshots.Stop()

		onUpdate(initial)
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if subCtx.Err() == nil && status.Code(err) != codes.Canceled {
					logger.Error("Thread %s listener stopped: %v", key, err)
				}
				return
			}
			messages, err := decodeMessageSnapshot(snap)
			if err != nil {
				logger.Warn("Thread %s snapshot skipped: %v", key, err)
				continue
			}
			if subCtx.Err() != nil {
				return
			}
			onUpdate(messages)
		}
	}()

	return cancel, nil
}

func decodeMessageSnapshot(snap *firestore.QuerySnapshot) ([]*entity.Message, error) {
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, errors.Internal("Failed to read thread snapshot", err)
	}

	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		messages = append(messages, &m)
	}
	entity.SortMessages(messages)
	return messages, nil
}
