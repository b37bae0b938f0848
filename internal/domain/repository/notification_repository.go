package repository

import (
	"context"

	"tutorchat/internal/domain/entity"
)

// NotificationRepository is the unread ledger, one entry per thread.
type NotificationRepository interface {
	// RecordDelivery notifies the counterpart of sender: its unread count
	// grows by one and its read flag clears. The sender's side is never
	// touched. The entry is created if absent.
	RecordDelivery(ctx context.Context, thread *entity.Thread, sender entity.Role) error

	// MarkRead zeroes reader's side. A missing entry is a no-op.
	MarkRead(ctx context.Context, key entity.ThreadKey, reader entity.Role) error

	// Get returns a NOT_FOUND AppError when the thread has no entry.
	Get(ctx context.Context, key entity.ThreadKey) (*entity.NotificationEntry, error)
	UnreadCount(ctx context.Context, key entity.ThreadKey, reader entity.Role) (int, error)
	AggregateUnread(ctx context.Context, reader entity.Role, scope entity.NotificationScope) (int, error)
	List(ctx context.Context, scope entity.NotificationScope) ([]*entity.NotificationEntry, error)

	// Subscribe calls onChange, sequentially, whenever an entry in scope
	// may have changed.
	Subscribe(ctx context.Context, scope entity.NotificationScope, onChange func()) (cancel func(), err error)
}
