package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/errors"
)

type sqlNotification struct {
	ThreadID     string    `db:"thread_id"`
	OrderID      string    `db:"order_id"`
	KeyTutorID   string    `db:"key_tutor_id"`
	ClientID     string    `db:"client_id"`
	TutorID      string    `db:"tutor_id"`
	Mode         string    `db:"mode"`
	ClientRead   int       `db:"client_read"`
	ClientUnread int       `db:"client_unread"`
	AdminRead    int       `db:"admin_read"`
	AdminUnread  int       `db:"admin_unread"`
	Version      int64     `db:"version"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (n *sqlNotification) toEntity() *entity.NotificationEntry {
	return &entity.NotificationEntry{
		Key:          entity.ThreadKey{OrderID: n.OrderID, TutorID: n.KeyTutorID},
		ClientID:     n.ClientID,
		TutorID:      n.TutorID,
		Mode:         entity.ThreadMode(n.Mode),
		ClientRead:   n.ClientRead != 0,
		ClientUnread: n.ClientUnread,
		AdminRead:    n.AdminRead != 0,
		AdminUnread:  n.AdminUnread,
		UpdatedAt:    n.UpdatedAt,
	}
}

// sideColumns returns the read and unread columns of a side. Only these
// fixed names are ever interpolated into SQL.
func sideColumns(side entity.Side) (string, string) {
	if side == entity.SideClient {
		return "client_read", "client_unread"
	}
	return "admin_read", "admin_unread"
}

type sqlNotificationRepository struct {
	store *SQLStore
	now   func() time.Time
}

func NewSQLNotificationRepository(store *SQLStore) repository.NotificationRepository {
	return &sqlNotificationRepository{
		store: store,
		now:   time.Now,
	}
}

func (r *sqlNotificationRepository) RecordDelivery(ctx context.Context, thread *entity.Thread, sender entity.Role) error {
	recv := sender.Counterpart()
	readCol, unreadCol := sideColumns(recv)

	clientRead, clientUnread, adminRead, adminUnread := 1, 0, 1, 0
	if recv == entity.SideClient {
		clientRead, clientUnread = 0, 1
	} else {
		adminRead, adminUnread = 0, 1
	}

	// One upsert statement keeps concurrent increments exact.
	query := fmt.Sprintf(`
		INSERT INTO chat_notifications (
			thread_id, order_id, key_tutor_id, client_id, tutor_id, mode,
			client_read, client_unread, admin_read, admin_unread,
			version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			%[1]s = chat_notifications.%[1]s + 1,
			%[2]s = 0,
			tutor_id = excluded.tutor_id,
			version = chat_notifications.version + 1,
			updated_at = excluded.updated_at`,
		unreadCol, readCol,
	)

	_, err := r.store.db.ExecContext(ctx, r.store.rebind(query),
		threadDocID(thread.Key), thread.Key.OrderID, thread.Key.TutorID,
		thread.ClientID, thread.TutorID(), string(thread.Key.Mode()),
		clientRead, clientUnread, adminRead, adminUnread,
		r.now().UTC(),
	)
	if err != nil {
		return errors.Internal("Failed to record delivery", err)
	}
	return nil
}

func (r *sqlNotificationRepository) MarkRead(ctx context.Context, key entity.ThreadKey, reader entity.Role) error {
	readCol, unreadCol := sideColumns(reader.Side())

	// Rows already read are left alone so watchers see no change.
	query := fmt.Sprintf(`
		UPDATE chat_notifications SET
			%[1]s = 1,
			%[2]s = 0,
			version = version + 1,
			updated_at = ?
		WHERE thread_id = ? AND (%[1]s = 0 OR %[2]s <> 0)`,
		readCol, unreadCol,
	)

	_, err := r.store.db.ExecContext(ctx, r.store.rebind(query), r.now().UTC(), threadDocID(key))
	if err != nil {
		return errors.Internal("Failed to mark thread as read", err)
	}
	return nil
}

const notificationColumns = `thread_id, order_id, key_tutor_id, client_id, tutor_id, mode,
	client_read, client_unread, admin_read, admin_unread, version, updated_at`

func (r *sqlNotificationRepository) Get(ctx context.Context, key entity.ThreadKey) (*entity.NotificationEntry, error) {
	var row sqlNotification
	err := r.store.db.GetContext(ctx, &row, r.store.rebind(
		"SELECT "+notificationColumns+" FROM chat_notifications WHERE thread_id = ?"),
		threadDocID(key),
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("Notification entry", err)
		}
		return nil, errors.Internal("Failed to get notification entry", err)
	}
	return row.toEntity(), nil
}

func (r *sqlNotificationRepository) UnreadCount(ctx context.Context, key entity.ThreadKey, reader entity.Role) (int, error) {
	entry, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Unread(reader.Side()), nil
}

func scopeFilter(scope entity.NotificationScope) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if scope.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, scope.ClientID)
	}
	if scope.TutorID != "" {
		conditions = append(conditions, "tutor_id = ?")
		args = append(args, scope.TutorID)
	}
	if scope.Mode != "" {
		conditions = append(conditions, "mode = ?")
		args = append(args, string(scope.Mode))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *sqlNotificationRepository) AggregateUnread(ctx context.Context, reader entity.Role, scope entity.NotificationScope) (int, error) {
	_, unreadCol := sideColumns(reader.Side())
	where, args := scopeFilter(scope)

	var total int
	err := r.store.db.GetContext(ctx, &total, r.store.rebind(
		"SELECT COALESCE(SUM("+unreadCol+"), 0) FROM chat_notifications"+where), args...)
	if err != nil {
		return 0, errors.Internal("Failed to aggregate unread counts", err)
	}
	return total, nil
}

func (r *sqlNotificationRepository) List(ctx context.Context, scope entity.NotificationScope) ([]*entity.NotificationEntry, error) {
	where, args := scopeFilter(scope)

	var rows []sqlNotification
	err := r.store.db.SelectContext(ctx, &rows, r.store.rebind(
		"SELECT "+notificationColumns+" FROM chat_notifications"+where+" ORDER BY thread_id"), args...)
	if err != nil {
		return nil, errors.Internal("Failed to list notification entries", err)
	}

	entries := make([]*entity.NotificationEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toEntity())
	}
	return entries, nil
}

func (r *sqlNotificationRepository) Subscribe(ctx context.Context, scope entity.NotificationScope, onChange func()) (func(), error) {
	where, args := scopeFilter(scope)
	query := r.store.rebind(
		"SELECT COUNT(*) AS n, COALESCE(SUM(version), 0) AS versions FROM chat_notifications" + where)

	fingerprint := func(ctx context.Context) (string, error) {
		var row struct {
			Count    int64 `db:"n"`
			Versions int64 `db:"versions"`
		}
		if err := r.store.db.GetContext(ctx, &row, query, args...); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d:%d", row.Count, row.Versions), nil
	}

	cancel, err := r.store.pollChanges(ctx, fingerprint, onChange)
	if err != nil {
		return nil, errors.Internal("Failed to watch notifications", err)
	}
	return cancel, nil
}
