package bridge

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is one side's framed connection. ReadMessage blocks until the
// next wire message arrives; WriteMessage must be safe for concurrent use.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a fresh connection to the remote conversational engine.
// The bridge calls it for the initial handshake and on every reconnect.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WSTransport adapts a gorilla websocket connection to Transport,
// serializing writes behind a mutex.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSTransport wraps an upgraded or dialed websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (t *WSTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *WSTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}
