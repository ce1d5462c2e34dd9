package inmemory

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/repository/videostate"
)

type roomState struct {
	mu    sync.Mutex
	state domain.VideoState
}

// repo is the authoritative in-memory store of per-room playback state. State
// is created on the first control action for a room and lives until the room
// is removed or the process exits. Rooms lock independently: the outer mutex
// only guards the map itself.
type repo struct {
	rooms map[string]*roomState
	mu    sync.RWMutex
	clock clockwork.Clock
}

func NewRepo(clock clockwork.Clock) *repo {
	return &repo{
		rooms: make(map[string]*roomState),
		clock: clock,
	}
}

func (r *repo) getOrCreateRoom(roomId string) *roomState {
	r.mu.RLock()
	rs, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if ok {
		return rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.rooms[roomId]; ok {
		return rs
	}

	rs = &roomState{}
	r.rooms[roomId] = rs

	return rs
}

// ApplyAction overwrites the room's video state with the given action and
// returns the result. The previous state is never merged; the only carried
// value is the playing flag on a seek, since a seek does not start or stop
// playback.
func (r *repo) ApplyAction(roomId string, action domain.ControlAction) domain.VideoState {
	rs := r.getOrCreateRoom(roomId)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	next := domain.VideoState{
		VideoId:        action.VideoId,
		CurrentTime:    action.Time,
		LastUpdateTime: r.clock.Now().UnixMilli(),
	}

	switch action.Action {
	case domain.ActionPlay:
		next.IsPlaying = true
	case domain.ActionPause:
		next.IsPlaying = false
	case domain.ActionSeek:
		next.IsPlaying = rs.state.IsPlaying && rs.state.VideoId == action.VideoId
		seekTime := action.Time
		next.LastSeekTime = &seekTime
	}

	rs.state = next

	return next
}

// Snapshot returns a time-adjusted copy of the room's state without mutating
// it: the stored position plus elapsed wall time while playing, the stored
// position exactly while paused.
func (r *repo) Snapshot(roomId, videoId string) (domain.VideoState, error) {
	r.mu.RLock()
	rs, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if !ok {
		return domain.VideoState{}, videostate.ErrStateNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.state.VideoId == "" || rs.state.VideoId != videoId {
		return domain.VideoState{}, videostate.ErrStateNotFound
	}

	snapshot := rs.state
	if snapshot.IsPlaying {
		elapsed := r.clock.Now().UnixMilli() - snapshot.LastUpdateTime
		snapshot.CurrentTime += float64(elapsed) / 1000
	}

	return snapshot, nil
}

func (r *repo) Remove(roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, roomId)
}
