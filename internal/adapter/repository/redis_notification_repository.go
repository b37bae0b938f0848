package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

const markReadMaxAttempts = 5

// Hash fields of a ledger entry.
const (
	fieldOrderID    = "orderId"
	fieldKeyTutorID = "keyTutorId"
	fieldClientID   = "clientId"
	fieldTutorID    = "tutorId"
	fieldMode       = "mode"
	fieldUpdatedAt  = "updatedAt"
)

type redisNotificationRepository struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// ledgerEvent is published after every ledger write so scope watchers can
// decide whether to recompute.
type ledgerEvent struct {
	ClientID string            `json:"client_id"`
	TutorID  string            `json:"tutor_id"`
	Mode     entity.ThreadMode `json:"mode"`
}

func NewRedisNotificationRepository(client *redis.Client) repository.NotificationRepository {
	return &redisNotificationRepository{
		client: client,
		prefix: redisKeyPrefix,
		now:    time.Now,
	}
}

func (r *redisNotificationRepository) entryKey(key entity.ThreadKey) string {
	return r.prefix + "ledger:" + threadDocID(key)
}

func (r *redisNotificationRepository) eventsChannel() string {
	return r.prefix + "events:ledger"
}

func (r *redisNotificationRepository) indexAll() string {
	return r.prefix + "ledger:idx:all"
}

func (r *redisNotificationRepository) indexClient(clientID string) string {
	return r.prefix + "ledger:idx:client:" + clientID
}

func (r *redisNotificationRepository) indexTutor(tutorID string) string {
	return r.prefix + "ledger:idx:tutor:" + tutorID
}

func (r *redisNotificationRepository) indexMode(mode entity.ThreadMode) string {
	return r.prefix + "ledger:idx:mode:" + string(mode)
}

func (r *redisNotificationRepository) RecordDelivery(ctx context.Context, thread *entity.Thread, sender entity.Role) error {
	k := r.entryKey(thread.Key)
	own := sender.Side()
	recv := sender.Counterpart()
	tutorID := thread.TutorID()
	mode := thread.Key.Mode()

	event, err := json.Marshal(ledgerEvent{ClientID: thread.ClientID, TutorID: tutorID, Mode: mode})
	if err != nil {
		return errors.Internal("Failed to encode ledger event", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			fieldOrderID, thread.Key.OrderID,
			fieldKeyTutorID, thread.Key.TutorID,
			fieldClientID, thread.ClientID,
			fieldTutorID, tutorID,
			fieldMode, string(mode),
			fieldUpdatedAt, r.now().UTC().Format(time.RFC3339Nano),
		)
		// The sender's side starts out read and is left alone afterwards.
		pipe.HSetNX(ctx, k, readField(own), "1")
		pipe.HSetNX(ctx, k, unreadField(own), "0")
		pipe.HIncrBy(ctx, k, unreadField(recv), 1)
		pipe.HSet(ctx, k, readField(recv), "0")

		pipe.SAdd(ctx, r.indexAll(), k)
		pipe.SAdd(ctx, r.indexClient(thread.ClientID), k)
		pipe.SAdd(ctx, r.indexMode(mode), k)
		if tutorID != "" {
			pipe.SAdd(ctx, r.indexTutor(tutorID), k)
		}
		pipe.Publish(ctx, r.eventsChannel(), event)
		return nil
	})
	if err != nil {
		return errors.Internal("Failed to record delivery", err)
	}
	return nil
}

var errNoLedgerEntry = stderrors.New("no ledger entry")

func (r *redisNotificationRepository) MarkRead(ctx context.Context, key entity.ThreadKey, reader entity.Role) error {
	k := r.entryKey(key)
	side := reader.Side()

	txf := func(tx *redis.Tx) error {
		meta, err := tx.HMGet(ctx, k, fieldClientID, fieldTutorID, fieldMode).Result()
		if err != nil {
			return err
		}
		if meta[0] == nil {
			return errNoLedgerEntry
		}

		event, err := json.Marshal(ledgerEvent{
			ClientID: asString(meta[0]),
			TutorID:  asString(meta[1]),
			Mode:     entity.ThreadMode(asString(meta[2])),
		})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k,
				readField(side), "1",
				unreadField(side), "0",
				fieldUpdatedAt, r.now().UTC().Format(time.RFC3339Nano),
			)
			pipe.Publish(ctx, r.eventsChannel(), event)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < markReadMaxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, k)
		switch {
		case err == nil:
			return nil
		case stderrors.Is(err, errNoLedgerEntry):
			return nil
		case stderrors.Is(err, redis.TxFailedErr):
			logger.Debug("MarkRead: entry %s changed during transaction, retrying", k)
			continue
		default:
			return errors.Internal("Failed to mark thread as read", err)
		}
	}
	return errors.Internal("Failed to mark thread as read", redis.TxFailedErr)
}

func (r *redisNotificationRepository) Get(ctx context.Context, key entity.ThreadKey) (*entity.NotificationEntry, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(key)).Result()
	if err != nil {
		return nil, errors.Internal("Failed to get notification entry", err)
	}
	if len(fields) == 0 {
		return nil, errors.NotFound("Notification entry", nil)
	}
	return parseRedisEntry(fields), nil
}

func (r *redisNotificationRepository) UnreadCount(ctx context.Context, key entity.ThreadKey, reader entity.Role) (int, error) {
	entry, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Unread(reader.Side()), nil
}

func (r *redisNotificationRepository) AggregateUnread(ctx context.Context, reader entity.Role, scope entity.NotificationScope) (int, error) {
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

func (r *redisNotificationRepository) List(ctx context.Context, scope entity.NotificationScope) ([]*entity.NotificationEntry, error) {
	sets := []string{r.indexAll()}
	if scope.ClientID != "" {
		sets = append(sets, r.indexClient(scope.ClientID))
	}
	if scope.TutorID != "" {
		sets = append(sets, r.indexTutor(scope.TutorID))
	}
	if scope.Mode != "" {
		sets = append(sets, r.indexMode(scope.Mode))
	}

	keys, err := r.client.SInter(ctx, sets...).Result()
	if err != nil {
		return nil, errors.Internal("Failed to list notification entries", err)
	}
	sort.Strings(keys)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errors.Internal("Failed to load notification entries", err)
		}
	}

	entries := make([]*entity.NotificationEntry, 0, len(keys))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entry := parseRedisEntry(fields)
		if scope.Matches(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *redisNotificationRepository) Subscribe(ctx context.Context, scope entity.NotificationScope, onChange func()) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.eventsChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Internal("Failed to subscribe to notifications", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	events := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				var ev ledgerEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("Ignoring malformed ledger event: %v", err)
					continue
				}
				probe := &entity.NotificationEntry{ClientID: ev.ClientID, TutorID: ev.TutorID, Mode: ev.Mode}
				if scope.Matches(probe) && subCtx.Err() == nil {
					onChange()
				}
			}
		}
	}()

	return cancel, nil
}

func parseRedisEntry(fields map[string]string) *entity.NotificationEntry {
	entry := &entity.NotificationEntry{
		Key: entity.ThreadKey{
			OrderID: fields[fieldOrderID],
			TutorID: fields[fieldKeyTutorID],
		},
		ClientID:     fields[fieldClientID],
		TutorID:      fields[fieldTutorID],
		Mode:         entity.ThreadMode(fields[fieldMode]),
		ClientRead:   parseFlag(fields[readField(entity.SideClient)]),
		ClientUnread: parseCount(fields[unreadField(entity.SideClient)]),
		AdminRead:    parseFlag(fields[readField(entity.SideAdmin)]),
		AdminUnread:  parseCount(fields[unreadField(entity.SideAdmin)]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err == nil {
		entry.UpdatedAt = ts
	}
	return entry
}

// A side that was never written is read with nothing pending.
func parseFlag(v string) bool {
	return v != "0"
}

func parseCount(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
