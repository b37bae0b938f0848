package entity

// Role is the acting role of an identity. Tutors and admins read threads
// on the same side of the ledger: a tutor acts as the order's admin.
type Role string

const (
	RoleClient Role = "client"
	RoleTutor  Role = "tutor"
	RoleAdmin  Role = "admin"
)

// Side is the reader side a notification counter belongs to.
type Side string

const (
	SideClient Side = "client"
	SideAdmin  Side = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleTutor, RoleAdmin:
		return true
	}
	return false
}

func (r Role) Side() Side {
	if r == RoleClient {
		return SideClient
	}
	return SideAdmin
}

// Counterpart is the side that must be notified when r sends a message.
func (r Role) Counterpart() Side {
	return r.Side().Other()
}

func (s Side) Other() Side {
	if s == SideClient {
		return SideAdmin
	}
	return SideClient
}

// Actor is the authenticated identity behind a request.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
