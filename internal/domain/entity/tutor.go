package entity

import "time"

type Tutor struct {
	ID        string    `json:"id" firestore:"id" db:"id"`
	Name      string    `json:"name" firestore:"name" db:"name"`
	Email     string    `json:"email,omitempty" firestore:"email,omitempty" db:"email"`
	Subjects  []string  `json:"subjects,omitempty" firestore:"subjects,omitempty" db:"-"`
	Rating    float64   `json:"rating" firestore:"rating" db:"rating"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt" db:"created_at"`
}
