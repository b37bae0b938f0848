package livesync

// mailbox holds at most one undelivered value. A newer value replaces an
// older undelivered one. It assumes a single producer, which holds for store
// change feeds.
type mailbox[T any] struct {
	ch chan T
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ch: make(chan T, 1)}
}

func (m *mailbox[T]) put(v T) {
	for {
		select {
		case m.ch <- v:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}
