package player

import "errors"

// ErrNotReady is returned while the backend has not produced a playback
// position yet. Player startup is asynchronous; callers retry rather than fail.
var ErrNotReady = errors.New("player not ready")

// State is the playback state reported by a player backend.
type State int

const (
	StateUnstarted State = iota
	StatePlaying
	StatePaused
	StateBuffering
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	default:
		return "unstarted"
	}
}

// StateChange is delivered on Events whenever the backend's playback state or
// position changes.
type StateChange struct {
	State    State
	Position float64
}

// Player abstracts a controllable video player backend. Position and seek
// units are seconds. Implementations are expected to answer Position and
// State from a locally tracked view rather than a round trip, since the sync
// engine polls them.
type Player interface {
	Position() (float64, error)
	SeekTo(seconds float64) error
	Play() error
	Pause() error
	State() (State, error)
	Events() <-chan StateChange
	Ready() bool
	Close() error
}
