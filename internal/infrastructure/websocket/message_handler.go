package websocket

import (
	"encoding/json"
	"time"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/infrastructure/livesync"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeOpenThread  = "open_thread"
	MessageTypeCloseThread = "close_thread"
	MessageTypeSendMessage = "send_message"
	MessageTypeWatchUnread = "watch_unread"

	MessageTypeThreadOpened   = "thread_opened"
	MessageTypeThreadSnapshot = "thread_snapshot"
	MessageTypeMessageFailed  = "message_failed"
	MessageTypeUnreadCount    = "unread_count"
	MessageTypeError          = "error"
)

// WebSocket Message Structure
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type OpenThreadData struct {
	OrderID string            `json:"order_id"`
	TutorID string            `json:"tutor_id,omitempty"`
	Mode    entity.ThreadMode `json:"mode,omitempty"`
}

type SendMessageData struct {
	TempID string `json:"temp_id,omitempty"`
	Body   string `json:"body"`
}

type WatchUnreadData struct {
	Mode     entity.ThreadMode `json:"mode,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
	TutorID  string            `json:"tutor_id,omitempty"`
}

type ThreadOpenedData struct {
	Key    entity.ThreadKey `json:"key"`
	Thread *entity.Thread   `json:"thread"`
}

type ThreadSnapshotData struct {
	Key      entity.ThreadKey  `json:"key"`
	Messages []*entity.Message `json:"messages"`
}

type MessageFailedData struct {
	MessageID string `json:"message_id,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type UnreadCountData struct {
	Count int                      `json:"count"`
	Scope entity.NotificationScope `json:"scope"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		logger.Warn("WebSocket: invalid message from session %s: %v", client.ID, err)
		m.sendError(client, errors.BadRequest("Invalid message format", err))
		return
	}

	logger.Debug("WebSocket: received '%s' from session %s", wsMessage.Type, client.ID)

	switch wsMessage.Type {
	case MessageTypePing:
		m.sendToClient(client, MessageTypePong, map[string]string{"status": "alive"})

	case MessageTypeOpenThread:
		var data OpenThreadData
		if !m.decode(client, wsMessage.Data, &data) {
			return
		}
		m.handleOpenThread(client, data)

	case MessageTypeCloseThread:
		client.scope.Release(slotThread)
		client.setView(nil)

	case MessageTypeSendMessage:
		var data SendMessageData
		if !m.decode(client, wsMessage.Data, &data) {
			return
		}
		m.handleSendMessage(client, data)

	case MessageTypeWatchUnread:
		var data WatchUnreadData
		if !m.decode(client, wsMessage.Data, &data) {
			return
		}
		m.handleWatchUnread(client, data)

	default:
		logger.Warn("WebSocket: unknown message type '%s' from session %s", wsMessage.Type, client.ID)
		m.sendError(client, errors.BadRequest("Unknown message type", nil))
	}
}

// handleOpenThread switches the session to another thread. The previous
// watch is gone before the new one starts, and thread_opened always precedes
// the thread's snapshots. Re-opening the current thread changes nothing.
func (m *Manager) handleOpenThread(client *Client, data OpenThreadData) {
	thread, err := m.chat.LocateThread(client.ctx, data.OrderID, client.Actor, data.TutorID, data.Mode)
	if err != nil {
		m.sendError(client, err)
		return
	}

	if current := client.currentView(); current != nil && current.Key() == thread.Key {
		m.sendToClient(client, MessageTypeThreadOpened, ThreadOpenedData{Key: thread.Key, Thread: thread})
		return
	}

	client.scope.Release(slotThread)
	client.setView(nil)

	if _, err := m.chat.Open(client.ctx, thread.Key, client.Actor); err != nil {
		m.sendError(client, err)
		return
	}

	m.sendToClient(client, MessageTypeThreadOpened, ThreadOpenedData{Key: thread.Key, Thread: thread})

	// The view is current before the watch starts so its first snapshot is
	// not dropped by pushSnapshot.
	view := livesync.NewThreadView(thread.Key)
	client.setView(view)
	handle, err := m.hub.WatchThread(client.ctx, thread.Key, func(messages []*entity.Message) {
		view.Apply(messages)
		m.pushSnapshot(client, view)
	})
	if err != nil {
		client.setView(nil)
		logger.Error("WebSocket: watch of %s failed for session %s: %v", thread.Key, client.ID, err)
		m.sendError(client, errors.Transient("Thread updates are unavailable, please retry", err))
		return
	}

	client.scope.Replace(slotThread, handle)
}

func (m *Manager) handleSendMessage(client *Client, data SendMessageData) {
	view := client.currentView()
	if view == nil {
		m.sendError(client, errors.BadRequest("Open a thread before sending", nil))
		return
	}

	tracker := &sessionTracker{manager: m, client: client, view: view}
	_, err := m.chat.Send(client.ctx, usecase.SendMessageInput{
		Key:     view.Key(),
		Sender:  client.Actor,
		Body:    data.Body,
		Tracker: tracker,
	})
	if err == nil {
		return
	}

	failed := MessageFailedData{
		MessageID: tracker.id,
		TempID:    data.TempID,
		Code:      errors.CodeInternal,
		Message:   "Message could not be sent",
	}
	if appErr := errors.As(err); appErr != nil {
		failed.Code = appErr.Code
		failed.Message = appErr.Message
		failed.Retryable = appErr.Retryable
	}
	m.sendToClient(client, MessageTypeMessageFailed, failed)
}

// handleWatchUnread starts an aggregate badge watch. Watches are kept per
// mode, so a console can show bidding and active badges side by side.
func (m *Manager) handleWatchUnread(client *Client, data WatchUnreadData) {
	if data.Mode != "" && data.Mode != entity.ModeActive && data.Mode != entity.ModeBidding {
		m.sendError(client, errors.BadRequest("Unknown thread mode", nil))
		return
	}

	scope := m.chat.VisibleScope(client.Actor, entity.NotificationScope{
		ClientID: data.ClientID,
		TutorID:  data.TutorID,
		Mode:     data.Mode,
	})

	handle, err := m.hub.WatchAggregateNotifications(client.ctx, client.Actor.Role, scope, func(count int) {
		m.sendToClient(client, MessageTypeUnreadCount, UnreadCountData{Count: count, Scope: scope})
	})
	if err != nil {
		logger.Error("WebSocket: unread watch failed for session %s: %v", client.ID, err)
		m.sendError(client, errors.Transient("Unread counts are unavailable, please retry", err))
		return
	}

	client.scope.Replace(slotUnread+string(scope.Mode), handle)
}

// pushSnapshot sends view as the session's thread, unless the session has
// moved to another thread meanwhile.
func (m *Manager) pushSnapshot(client *Client, view *livesync.ThreadView) {
	if client.currentView() != view {
		return
	}
	payload, ok := m.encode(client, MessageTypeThreadSnapshot, ThreadSnapshotData{
		Key:      view.Key(),
		Messages: view.Messages(),
	})
	if ok {
		client.deliverSnapshot(view, payload)
	}
}

func (m *Manager) decode(client *Client, raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		m.sendError(client, errors.BadRequest("Invalid message data", err))
		return false
	}
	return true
}

func (m *Manager) sendError(client *Client, err error) {
	data := ErrorData{Code: errors.CodeInternal, Message: "An unexpected error occurred"}
	if appErr := errors.As(err); appErr != nil {
		data.Code = appErr.Code
		data.Message = appErr.Message
	}
	m.sendToClient(client, MessageTypeError, data)
}

func (m *Manager) sendToClient(client *Client, messageType string, data interface{}) {
	if payload, ok := m.encode(client, messageType, data); ok {
		client.deliver(payload)
	}
}

func (m *Manager) encode(client *Client, messageType string, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(outgoingMessage{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("WebSocket: failed to encode %s for session %s: %v", messageType, client.ID, err)
		return nil, false
	}
	return payload, true
}

// sessionTracker shows a send in the session's view as it progresses.
type sessionTracker struct {
	manager *Manager
	client  *Client
	view    *livesync.ThreadView
	id      string
}

func (t *sessionTracker) AddPending(message *entity.Message) {
	t.id = message.ID
	t.view.AddPending(message)
	t.manager.pushSnapshot(t.client, t.view)
}

func (t *sessionTracker) Confirm(id string) {
	t.view.Confirm(id)
	t.manager.pushSnapshot(t.client, t.view)
}

func (t *sessionTracker) Rollback(id string) {
	t.view.Rollback(id)
	t.manager.pushSnapshot(t.client, t.view)
}
