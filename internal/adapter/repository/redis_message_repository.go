package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

// redisMessageRepository keeps each thread as a Redis list. RPUSH is atomic,
// so concurrent senders never overwrite each other.
type redisMessageRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageRepository(client *redis.Client) repository.MessageRepository {
	return &redisMessageRepository{
		client: client,
		prefix: redisKeyPrefix,
	}
}

func (r *redisMessageRepository) messagesKey(key entity.ThreadKey) string {
	return r.prefix + "thread:" + threadDocID(key) + ":messages"
}

func (r *redisMessageRepository) eventsChannel(key entity.ThreadKey) string {
	return r.prefix + "events:thread:" + threadDocID(key)
}

func (r *redisMessageRepository) Append(ctx context.Context, key entity.ThreadKey, message *entity.Message) error {
	payload, err := json.Marshal(storedMessage(message))
	if err != nil {
		return errors.Internal("Failed to encode message", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.messagesKey(key), payload)
		pipe.Publish(ctx, r.eventsChannel(key), message.ID)
		return nil
	})
	if err != nil {
		return errors.Internal("Failed to append message", err)
	}
	return nil
}

func (r *redisMessageRepository) List(ctx context.Context, key entity.ThreadKey) ([]*entity.Message, error) {
	raw, err := r.client.LRange(ctx, r.messagesKey(key), 0, -1).Result()
	if err != nil {
		return nil, errors.Internal("Failed to load messages", err)
	}

	messages := make([]*entity.Message, 0, len(raw))
	for _, item := range raw {
		var m entity.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			logger.Warn("Skipping malformed message in thread %s: %v", key, err)
			continue
		}
		messages = append(messages, &m)
	}

	entity.SortMessages(messages)
	return messages, nil
}

func (r *redisMessageRepository) Subscribe(ctx context.Context, key entity.ThreadKey, onUpdate func([]*entity.Message)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.eventsChannel(key))
	// Wait for the subscription to be confirmed so no append can slip
	// between the initial snapshot and the first event.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Internal("Failed to subscribe to thread", err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	initial, err := r.List(subCtx, key)
	if err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	events := pubsub.Channel()
	go func() {
		defer pubsub.Close()

		onUpdate(initial)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				drainEvents(events)

				messages, err := r.List(subCtx, key)
				if err != nil {
					if subCtx.Err() != nil {
						return
					}
					logger.Warn("Thread %s refresh failed: %v", key, err)
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				onUpdate(messages)
			}
		}
	}()

	return cancel, nil
}

// drainEvents coalesces a burst of notifications into one snapshot read.
func drainEvents(events <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
