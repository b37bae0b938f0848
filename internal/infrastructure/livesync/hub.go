package livesync

import (
	"context"
	"sync"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/domain/repository"
	"tutorchat/pkg/logger"
)

// Hub turns store change feeds into per-watch callbacks. Every watch gets
// its own delivery goroutine, so callbacks of one watch never overlap and a
// slow callback only ever skips stale snapshots.
type Hub struct {
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
}

func NewHub(messages repository.MessageRepository, notifications repository.NotificationRepository) *Hub {
	return &Hub{
		messages:      messages,
		notifications: notifications,
	}
}

// Handle is a live watch. Release must not be called from inside the watch's
// own callback.
type Handle struct {
	cancel  context.CancelFunc
	unwatch func()
	once    sync.Once
	done    chan struct{}
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Release stops the watch and returns once its callback can no longer run.
// It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.cancel()
		if h.unwatch != nil {
			h.unwatch()
		}
	})
	<-h.done
}

// WatchThread calls callback with the full ordered thread, first with the
// current state and then after every change.
func (hub *Hub) WatchThread(ctx context.Context, key entity.ThreadKey, callback func([]*entity.Message)) (*Handle, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	handle := newHandle(cancel)
	box := newMailbox[[]*entity.Message]()

	unwatch, err := hub.messages.Subscribe(watchCtx, key, box.put)
	if err != nil {
		cancel()
		return nil, err
	}
	handle.unwatch = unwatch

	go func() {
		defer close(handle.done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case messages := <-box.ch:
				if watchCtx.Err() != nil {
					return
				}
				callback(messages)
			}
		}
	}()

	return handle, nil
}

// WatchAggregateNotifications calls callback with reader's total unread
// count over scope, once immediately and again whenever it changes.
func (hub *Hub) WatchAggregateNotifications(ctx context.Context, reader entity.Role, scope entity.NotificationScope, callback func(int)) (*Handle, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	handle := newHandle(cancel)
	box := newMailbox[struct{}]()

	unwatch, err := hub.notifications.Subscribe(watchCtx, scope, func() { box.put(struct{}{}) })
	if err != nil {
		cancel()
		return nil, err
	}
	handle.unwatch = unwatch

	// Subscribed before the first count, so no change slips in between.
	initial, err := hub.notifications.AggregateUnread(watchCtx, reader, scope)
	if err != nil {
		cancel()
		unwatch()
		return nil, err
	}

	go func() {
		defer close(handle.done)

		last := initial
		callback(initial)
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-box.ch:
				count, err := hub.notifications.AggregateUnread(watchCtx, reader, scope)
				if watchCtx.Err() != nil {
					return
				}
				if err != nil {
					logger.Warn("Aggregate unread refresh failed for %s: %v", reader, err)
					continue
				}
				if count == last {
					continue
				}
				last = count
				callback(count)
			}
		}
	}()

	return handle, nil
}
