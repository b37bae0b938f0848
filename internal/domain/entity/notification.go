package entity

import "time"

// NotificationEntry is the unread bookkeeping of one thread, kept per side.
// For each side, Unread is zero exactly when Read is true.
type NotificationEntry struct {
	Key          ThreadKey  `json:"key"`
	ClientID     string     `json:"client_id"`
	TutorID      string     `json:"tutor_id,omitempty"`
	Mode         ThreadMode `json:"mode"`
	ClientRead   bool       `json:"client_read"`
	ClientUnread int        `json:"client_unread"`
	AdminRead    bool       `json:"admin_read"`
	AdminUnread  int        `json:"admin_unread"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (n *NotificationEntry) Unread(side Side) int {
	if side == SideClient {
		return n.ClientUnread
	}
	return n.AdminUnread
}

func (n *NotificationEntry) Read(side Side) bool {
	if side == SideClient {
		return n.ClientRead
	}
	return n.AdminRead
}

// NotificationScope filters ledger entries for aggregate counts. Empty
// fields match every entry.
type NotificationScope struct {
	ClientID string     `json:"client_id,omitempty" query:"client_id"`
	TutorID  string     `json:"tutor_id,omitempty" query:"tutor_id"`
	Mode     ThreadMode `json:"mode,omitempty" query:"mode"`
}

func (s NotificationScope) Matches(e *NotificationEntry) bool {
	if s.ClientID != "" && s.ClientID != e.ClientID {
		return false
	}
	if s.TutorID != "" && s.TutorID != e.TutorID {
		return false
	}
	if s.Mode != "" && s.Mode != e.Mode {
		return false
	}
	return true
}
