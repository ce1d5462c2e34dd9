package wssender

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Message is the wire frame for every server-to-client event.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sender serializes writes per connection. gorilla/websocket allows only one
// concurrent writer, and broadcasts race with direct handler replies.
type Sender struct {
	mu    sync.Mutex
	locks map[*websocket.Conn]*sync.Mutex
}

func NewSender() *Sender {
	return &Sender{locks: make(map[*websocket.Conn]*sync.Mutex)}
}

func (s *Sender) lockFor(conn *websocket.Conn) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[conn]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conn] = lock
	}

	return lock
}

func (s *Sender) Send(conn *websocket.Conn, msgType string, payload any) error {
	lock := s.lockFor(conn)
	lock.Lock()
	defer lock.Unlock()

	return conn.WriteJSON(&Message{Type: msgType, Payload: payload})
}

// Close closes the underlying connection.
func (s *Sender) Close(conn *websocket.Conn) error {
	return conn.Close()
}

// Forget releases the write lock entry of a closed connection.
func (s *Sender) Forget(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, conn)
}
