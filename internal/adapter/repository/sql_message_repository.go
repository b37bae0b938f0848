package repository

import (
	"context"
	"fmt"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

type sqlMessageRepository struct {
	store *SQLStore
}

func NewSQLMessageRepository(store *SQLStore) repository.MessageRepository {
	return &sqlMessageRepository{
		store: store,
	}
}

func (r *sqlMessageRepository) Append(ctx context.Context, key entity.ThreadKey, message *entity.Message) error {
	m := storedMessage(message)
	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`
		INSERT INTO chat_messages (
			id, thread_id, seq, order_id, tutor_id,
			sender_id, sender_role, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, threadDocID(key), m.Seq, key.OrderID, key.TutorID,
		m.SenderID, string(m.SenderRole), m.Body, m.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Internal("Failed to append message", err)
	}
	return nil
}

func (r *sqlMessageRepository) List(ctx context.Context, key entity.ThreadKey) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := r.store.db.SelectContext(ctx, &messages, r.store.rebind(`
		SELECT id, seq, order_id, tutor_id, sender_id, sender_role, body, created_at
		FROM chat_messages
		WHERE thread_id = ?
		ORDER BY created_at, seq`),
		threadDocID(key),
	)
	if err != nil {
		return nil, errors.Internal("Failed to load messages", err)
	}

	// Text timestamps in SQLite do not always sort chronologically.
	entity.SortMessages(messages)
	return messages, nil
}

func (r *sqlMessageRepository) Subscribe(ctx context.Context, key entity.ThreadKey, onUpdate func([]*entity.Message)) (func(), error) {
	threadID := threadDocID(key)
	fingerprint := func(ctx context.Context) (string, error) {
		var row struct {
			Count  int64 `db:"n"`
			MaxSeq int64 `db:"max_seq"`
		}
		err := r.store.db.GetContext(ctx, &row, r.store.rebind(
			"SELECT COUNT(*) AS n, COALESCE(MAX(seq), 0) AS max_seq FROM chat_messages WHERE thread_id = ?"),
			threadID,
		)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d:%d", row.Count, row.MaxSeq), nil
	}

	// Snapshots go through a single goroutine so callbacks never overlap.
	updates := make(chan struct{}, 1)
	stop, err := r.store.pollChanges(ctx, fingerprint, func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, errors.Internal("Failed to watch thread", err)
	}

	// Listed after the first fingerprint, so a concurrent append shows up
	// either here or on the next poll.
	initial, err := r.List(ctx, key)
	if err != nil {
		stop()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		onUpdate(initial)
		for {
			select {
			case <-subCtx.Done():
				return
			case <-updates:
				messages, err := r.List(subCtx, key)
				if subCtx.Err() != nil {
					return
				}
				if err != nil {
					logger.Warn("Thread %s refresh failed: %v", key, err)
					continue
				}
				onUpdate(messages)
			}
		}
	}()

	return func() {
		stop()
		cancel()
	}, nil
}
