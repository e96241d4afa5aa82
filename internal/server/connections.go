package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"
)

// wire is the transport surface the session layer needs from a websocket.
// *websocket.Conn satisfies it; tests substitute a recording fake.
type wire interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection binds a live transport to an authenticated player. The session
// layer holds non-owning references to Connections: the transport layer
// creates and destroys them, and a session slot may be rebound to a newer
// Connection for the same user after a reconnect.
type Connection struct {
	ID       string // connection id, unique per transport
	UserID   int64  // stable identity key, survives reconnects
	Username string

	ws wire

	mu     sync.Mutex
	alive  bool
	gameID string // session this connection is bound to, "" if none
}

func NewConnection(id string, userID int64, username string, ws wire) *Connection {
	return &Connection{
		ID:       id,
		UserID:   userID,
		Username: username,
		ws:       ws,
		alive:    true,
	}
}

// Send marshals v and writes it as one text frame. Safe to call from timer
// callbacks and broadcasts; write failures are logged, not propagated, since
// the read loop notices a dead transport on its own.
func (c *Connection) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Marshal error for connection %s: %v", c.ID, err)
		return
	}

	if err := c.ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		log.Printf("Failed to send to %s (%s): %v", c.Username, c.ID, err)
	}
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

func (c *Connection) Close(code websocket.StatusCode, reason string) {
	if err := c.ws.Close(code, reason); err != nil {
		log.Printf("Failed to close connection %s: %v", c.ID, err)
	}
}

func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Connection) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

func (c *Connection) GameID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

func (c *Connection) SetGameID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameID = id
}

type ConnectionManager struct {
	connections map[string]*Connection // connectionID → connection
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
	}
}

func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn
}

func (cm *ConnectionManager) Remove(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
}

func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

// All returns a snapshot of the bound connections. The heartbeat sweep
// iterates the snapshot so evictions don't mutate the map mid-range.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
