package entity

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusBidding    OrderStatus = "bidding"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID              string      `json:"id" firestore:"id" db:"id"`
	ClientID        string      `json:"client_id" firestore:"clientId" db:"client_id"`
	AssignedTutorID string      `json:"assigned_tutor_id,omitempty" firestore:"assignedTutorId,omitempty" db:"assigned_tutor_id"`
	Status          OrderStatus `json:"status" firestore:"status" db:"status"`
	Title           string      `json:"title" firestore:"title" db:"title"`
	CreatedAt       time.Time   `json:"created_at" firestore:"createdAt" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" firestore:"updatedAt" db:"updated_at"`
}

// Mode is derived from the assignment alone: an order with a tutor is active
// whatever its lifecycle status.
func (o *Order) Mode() ThreadMode {
	if o.AssignedTutorID != "" {
		return ModeActive
	}
	return ModeBidding
}
