package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/models"
)

// DefaultWriteTimeout bounds one WebSocket send. A client that cannot
// accept a frame within it is treated as gone.
const DefaultWriteTimeout = 10 * time.Second

// ClientMessage is a frame from a WebSocket client.
type ClientMessage struct {
	Action   string `json:"action"`
	ThreadID string `json:"threadId,omitempty"`
}

// ServerMessage is a frame to a WebSocket client.
type ServerMessage struct {
	Type         string         `json:"type"`
	ConnectionID string         `json:"connectionId,omitempty"`
	ThreadID     string         `json:"threadId,omitempty"`
	Message      string         `json:"message,omitempty"`
	Event        *models.Event  `json:"event,omitempty"`
}

// ConnectionManager owns the WebSocket side of the event feed: each
// connection may follow any number of threads, each followed thread is
// one broadcaster subscription pumped by its own goroutine.
type ConnectionManager struct {
	broadcaster  *Broadcaster
	writeTimeout time.Duration
	logger       *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connection
}

// connection tracks one WebSocket client and its thread subscriptions.
// The subscriptions map is only touched from the connection's read loop
// and its deferred cleanup, so it needs no lock of its own.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]func()
	writeMu       sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a manager over the broadcaster. A write
// timeout of 0 or less uses DefaultWriteTimeout.
func NewConnectionManager(broadcaster *Broadcaster, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &ConnectionManager{
		broadcaster:  broadcaster,
		writeTimeout: writeTimeout,
		logger:       slog.With("component", "ws"),
		connections:  make(map[string]*connection),
	}
}

// HandleConnection drives one accepted WebSocket connection until it
// closes. threadID, when non-empty, is subscribed before the read loop
// starts so path-scoped feeds need no explicit subscribe frame.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, threadID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]func()),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.send(c, &ServerMessage{Type: "connection.established", ConnectionID: c.id})

	if threadID != "" {
		m.subscribe(c, threadID)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Invalid WebSocket frame", "connection_id", c.id, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of open connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) handleClientMessage(c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.ThreadID == "" {
			m.send(c, &ServerMessage{Type: "error", Message: "threadId is required for subscribe"})
			return
		}
		m.subscribe(c, msg.ThreadID)
	case "unsubscribe":
		if msg.ThreadID == "" {
			m.send(c, &ServerMessage{Type: "error", Message: "threadId is required for unsubscribe"})
			return
		}
		if stop, ok := c.subscriptions[msg.ThreadID]; ok {
			delete(c.subscriptions, msg.ThreadID)
			stop()
		}
	case "ping":
		m.send(c, &ServerMessage{Type: "pong"})
	default:
		m.send(c, &ServerMessage{Type: "error", Message: "unknown action"})
	}
}

// subscribe attaches the connection to the thread's feed and starts the
// pump goroutine. Confirmation is sent before the first event frame.
func (m *ConnectionManager) subscribe(c *connection, threadID string) {
	if _, ok := c.subscriptions[threadID]; ok {
		m.send(c, &ServerMessage{Type: "subscription.confirmed", ThreadID: threadID})
		return
	}

	sub := m.broadcaster.Subscribe(threadID, 0)
	if sub == nil {
		m.send(c, &ServerMessage{Type: "subscription.error", ThreadID: threadID, Message: "broadcaster closed"})
		return
	}
	c.subscriptions[threadID] = sub.Close
	m.send(c, &ServerMessage{Type: "subscription.confirmed", ThreadID: threadID})

	go func() {
		defer sub.Close()
		for {
			select {
			case <-c.ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := m.send(c, &ServerMessage{Type: "event", ThreadID: threadID, Event: event}); err != nil {
					c.cancel()
					return
				}
			}
		}
	}()
}

// send writes one frame with the write timeout applied. Serialized per
// connection because pump goroutines for different threads share it.
func (m *ConnectionManager) send(c *connection, msg *ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		return err
	}
	return nil
}

func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(c *connection) {
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	c.cancel()
	for threadID, stop := range c.subscriptions {
		delete(c.subscriptions, threadID)
		stop()
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}
