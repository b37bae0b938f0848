package entity

import (
	"sort"
	"time"
)

type Message struct {
	ID         string    `json:"id" firestore:"id" db:"id"`
	Seq        int64     `json:"seq" firestore:"seq" db:"seq"`
	OrderID    string    `json:"order_id" firestore:"orderId" db:"order_id"`
	TutorID    string    `json:"tutor_id,omitempty" firestore:"tutorId" db:"tutor_id"`
	SenderID   string    `json:"sender_id" firestore:"senderId" db:"sender_id"`
	SenderRole Role      `json:"sender_role" firestore:"senderRole" db:"sender_role"`
	Body       string    `json:"body" firestore:"body" db:"body"`
	CreatedAt  time.Time `json:"created_at" firestore:"createdAt" db:"created_at"`

	// Pending marks an optimistic local copy. It is never stored.
	Pending bool `json:"pending,omitempty" firestore:"-" db:"-"`
}

func (m *Message) Key() ThreadKey {
	return ThreadKey{OrderID: m.OrderID, TutorID: m.TutorID}
}

// Clone returns a shallow copy safe to hand to another goroutine.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// SortMessages orders by timestamp, then by Seq for equal timestamps.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}
