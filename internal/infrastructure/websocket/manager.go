package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tutorchat/internal/domain/entity"
	"tutorchat/internal/infrastructure/livesync"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 64

	slotThread = "thread"
	slotUnread = "unread:"
)

// Client is one WebSocket session. A user may hold several at once.
type Client struct {
	ID    string
	Actor entity.Actor
	Conn  *websocket.Conn
	Send  chan []byte

	// latest holds the newest thread snapshot that did not fit in Send.
	latest chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	scope  *livesync.Scope

	mu         sync.Mutex
	view       *livesync.ThreadView
	closed     bool
	overflowed bool
}

// Manager tracks sessions per user and serves their protocol messages.
type Manager struct {
	clients    map[string]map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}

	chat *usecase.ChatUseCase
	hub  *livesync.Hub
}

func NewManager(chat *usecase.ChatUseCase, hub *livesync.Hub) *Manager {
	return &Manager{
		clients:    make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		chat:       chat,
		hub:        hub,
	}
}

// NewClient creates a session for actor. conn may be nil in tests.
func (m *Manager) NewClient(ctx context.Context, actor entity.Actor, conn *websocket.Conn) *Client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		ID:     uuid.NewString(),
		Actor:  actor,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		latest: make(chan []byte, 1),
		ctx:    clientCtx,
		cancel: cancel,
		scope:  livesync.NewScope(),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				sessions, ok := m.clients[client.Actor.ID]
				if !ok {
					sessions = make(map[string]*Client)
					m.clients[client.Actor.ID] = sessions
				}
				sessions[client.ID] = client
				m.mutex.Unlock()
				logger.Info("WebSocket: session %s registered for %s", client.ID, client.Actor.ID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if sessions, ok := m.clients[client.Actor.ID]; ok {
					delete(sessions, client.ID)
					if len(sessions) == 0 {
						delete(m.clients, client.Actor.ID)
					}
				}
				m.mutex.Unlock()
				client.close()
				logger.Info("WebSocket: session %s unregistered for %s", client.ID, client.Actor.ID)

			case <-ctx.Done():
				close(m.done)
				m.closeAll()
				return
			}
		}
	}()
}

// Join registers c. It reports false once the manager has stopped, in which
// case c is closed.
func (m *Manager) Join(c *Client) bool {
	select {
	case m.Register <- c:
		return true
	case <-m.done:
		c.close()
		return false
	}
}

// Leave unregisters c, or just closes it once the manager has stopped.
func (m *Manager) Leave(c *Client) {
	select {
	case m.Unregister <- c:
	case <-m.done:
		c.close()
	}
}

// SessionCount returns the number of open sessions of userID.
func (m *Manager) SessionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// SendToUser sends a message to every session of a user.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	sessions := make([]*Client, 0, len(m.clients[userID]))
	for _, c := range m.clients[userID] {
		sessions = append(sessions, c)
	}
	m.mutex.RUnlock()

	for _, c := range sessions {
		c.deliver(message)
	}
}

func (m *Manager) closeAll() {
	m.mutex.Lock()
	var all []*Client
	for _, sessions := range m.clients {
		for _, c := range sessions {
			all = append(all, c)
		}
	}
	m.clients = make(map[string]map[string]*Client)
	m.mutex.Unlock()

	for _, c := range all {
		c.close()
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error on session %s: %v", c.ID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	// Queued frames go out before a coalesced snapshot.
	for {
		select {
		case message, ok := <-c.Send:
			if !c.writeFrame(message, ok) {
				return
			}
			continue
		default:
		}

		select {
		case message, ok := <-c.Send:
			if !c.writeFrame(message, ok) {
				return
			}

		case snapshot := <-c.latest:
			for len(c.Send) > 0 {
				message, ok := <-c.Send
				if !c.writeFrame(message, ok) {
					return
				}
			}
			if !c.writeFrame(snapshot, true) {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeFrame(message []byte, ok bool) bool {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}
	if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
		logger.Warn("WebSocket: write error on session %s: %v", c.ID, err)
		return false
	}
	return true
}

// deliver queues message unless the session is closed. A session that cannot
// take a frame is closed so the client reconnects and resyncs.
func (c *Client) deliver(message []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- message:
	default:
		c.overflow()
	}
}

// deliverSnapshot queues a snapshot of view unless the session shows another
// thread by now. When Send is full only the newest snapshot is kept.
func (c *Client) deliverSnapshot(view *livesync.ThreadView, snapshot []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.view != view {
		return
	}
	if len(c.latest) == 0 {
		select {
		case c.Send <- snapshot:
			return
		default:
		}
	}
	select {
	case <-c.latest:
	default:
	}
	c.latest <- snapshot
}

// overflow closes the session outside the caller, which may be a watch
// callback that close would wait on. Requires c.mu.
func (c *Client) overflow() {
	if c.overflowed {
		return
	}
	c.overflowed = true
	logger.Warn("WebSocket: session %s send buffer full, closing session", c.ID)
	go c.close()
}

func (c *Client) currentView() *livesync.ThreadView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// setView switches the session's thread and drops a snapshot still queued
// for the previous one.
func (c *Client) setView(v *livesync.ThreadView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	select {
	case <-c.latest:
	default:
	}
}

// close releases every watch before the send channel is closed, so no
// callback can write to it afterwards.
func (c *Client) close() {
	c.cancel()
	c.scope.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.view = nil
	close(c.Send)
}
