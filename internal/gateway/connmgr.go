package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is one suggestion socket.
type Conn struct {
	ID          string
	TicketID    string
	TenantID    string
	WS          *websocket.Conn
	writeMu     sync.Mutex
	seq         int
	ConnectedAt time.Time
}

// Send writes a frame to the socket (thread-safe).
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if frame.Type == "event" {
		c.seq++
		frame.Seq = c.seq
	}
	_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WS.WriteJSON(frame)
}

// Close sends a normal-closure control frame. The caller still closes WS.
func (c *Conn) Close(reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return c.WS.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// ConnManager tracks open suggestion sockets.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID → conn
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Count returns the number of sockets with a suggestion in progress.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ForTicket reports how many sockets are waiting on ticketID.
func (m *ConnManager) ForTicket(ticketID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conn := range m.conns {
		if conn.TicketID == ticketID {
			n++
		}
	}
	return n
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
