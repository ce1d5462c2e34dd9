package inmemory

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/watchroom/server/internal/repository/connection"
	"golang.org/x/exp/maps"
)

// repo tracks live websocket connections: which member owns which connection
// and which room each member is connected to. Records exist only for the
// lifetime of a connection; role history lives in the member repository.
type repo struct {
	connList    map[*websocket.Conn]string
	idList      map[string]*websocket.Conn
	roomList    map[string]string
	roomMembers map[string]map[string]struct{}
	mu          sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		connList:    make(map[*websocket.Conn]string),
		idList:      make(map[string]*websocket.Conn),
		roomList:    make(map[string]string),
		roomMembers: make(map[string]map[string]struct{}),
	}
}

func (r *repo) Add(conn *websocket.Conn, memberId, roomId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connList[conn] != "" || r.idList[memberId] != nil {
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = memberId
	r.idList[memberId] = conn
	r.roomList[memberId] = roomId

	members, ok := r.roomMembers[roomId]
	if !ok {
		members = make(map[string]struct{})
		r.roomMembers[roomId] = members
	}
	members[memberId] = struct{}{}

	return nil
}

func (r *repo) remove(conn *websocket.Conn, memberId string) {
	delete(r.connList, conn)
	delete(r.idList, memberId)

	roomId := r.roomList[memberId]
	delete(r.roomList, memberId)
	if members, ok := r.roomMembers[roomId]; ok {
		delete(members, memberId)
		if len(members) == 0 {
			delete(r.roomMembers, roomId)
		}
	}
}

func (r *repo) RemoveByConn(conn *websocket.Conn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	memberId, ok := r.connList[conn]
	if !ok {
		return "", connection.ErrNotFound
	}

	r.remove(conn, memberId)

	return memberId, nil
}

func (r *repo) RemoveByMemberId(memberId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.idList[memberId]
	if !ok {
		return connection.ErrNotFound
	}

	r.remove(conn, memberId)

	return nil
}

func (r *repo) GetConn(memberId string) (*websocket.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.idList[memberId]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) GetMemberId(conn *websocket.Conn) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberId, ok := r.connList[conn]
	if !ok {
		return "", connection.ErrNotFound
	}

	return memberId, nil
}

func (r *repo) GetMemberRoomId(memberId string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomId, ok := r.roomList[memberId]
	if !ok {
		return "", connection.ErrNotFound
	}

	return roomId, nil
}

// GetConnsByRoomId returns the live connections of a room. except (optional)
// is excluded, which is how broadcasts avoid echoing the sender.
func (r *repo) GetConnsByRoomId(roomId string, except *websocket.Conn) []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberIds := maps.Keys(r.roomMembers[roomId])
	conns := make([]*websocket.Conn, 0, len(memberIds))
	for _, memberId := range memberIds {
		conn := r.idList[memberId]
		if conn == nil || conn == except {
			continue
		}
		conns = append(conns, conn)
	}

	return conns
}
