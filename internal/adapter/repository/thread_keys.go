package repository

import (
	"strings"

	"tutorchat/internal/domain/entity"
)

// Storage addresses for threads. Encoded keys are never parsed back: every
// backend stores the key components as separate fields.
var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F", "/", "%2F", ":", "%3A")

func threadDocID(key entity.ThreadKey) string {
	if key.Mode() == entity.ModeBidding {
		return "bidding_" + keyEscaper.Replace(key.OrderID) + "_" + keyEscaper.Replace(key.TutorID)
	}
	return "active_" + keyEscaper.Replace(key.OrderID)
}

func readField(side entity.Side) string {
	if side == entity.SideClient {
		return "clientRead"
	}
	return "adminRead"
}

func unreadField(side entity.Side) string {
	if side == entity.SideClient {
		return "clientUnread"
	}
	return "adminUnread"
}

// storedMessage strips client-only state before a message is written.
func storedMessage(m *entity.Message) *entity.Message {
	c := m.Clone()
	c.Pending = false
	return c
}
