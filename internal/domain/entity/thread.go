package entity

import "fmt"

type ThreadMode string

const (
	ModeActive  ThreadMode = "active"
	ModeBidding ThreadMode = "bidding"
)

// ThreadKey addresses one message thread. Active threads carry only the
// order; bidding threads also carry the candidate tutor.
type ThreadKey struct {
	OrderID string `json:"order_id"`
	TutorID string `json:"tutor_id,omitempty"`
}

func ActiveKey(orderID string) ThreadKey {
	return ThreadKey{OrderID: orderID}
}

func BiddingKey(orderID, tutorID string) ThreadKey {
	return ThreadKey{OrderID: orderID, TutorID: tutorID}
}

func (k ThreadKey) Mode() ThreadMode {
	if k.TutorID != "" {
		return ModeBidding
	}
	return ModeActive
}

func (k ThreadKey) IsZero() bool {
	return k.OrderID == ""
}

func (k ThreadKey) String() string {
	if k.Mode() == ModeBidding {
		return fmt.Sprintf("%s/%s", k.OrderID, k.TutorID)
	}
	return k.OrderID
}

// Thread is a key checked against the order directory.
type Thread struct {
	Key             ThreadKey `json:"key"`
	ClientID        string    `json:"client_id"`
	AssignedTutorID string    `json:"assigned_tutor_id,omitempty"`
}

// TutorID is the tutor on the staff side of the thread, if any.
func (t *Thread) TutorID() string {
	if t.Key.TutorID != "" {
		return t.Key.TutorID
	}
	return t.AssignedTutorID
}
