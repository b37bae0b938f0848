package repository

import (
	"context"

	"tutorchat/internal/domain/entity"
)

// MessageRepository persists thread messages. Appends are atomic: two
// concurrent appends to the same thread both survive.
type MessageRepository interface {
	Append(ctx context.Context, key entity.ThreadKey, message *entity.Message) error

	// List returns the thread ordered by CreatedAt, then Seq.
	List(ctx context.Context, key entity.ThreadKey) ([]*entity.Message, error)

	// Subscribe delivers the full ordered thread once immediately and again
	// after every change. Callbacks run sequentially in store write order
	// until cancel is called or ctx is done.
	Subscribe(ctx context.Context, key entity.ThreadKey, onUpdate func([]*entity.Message)) (cancel func(), err error)
}
