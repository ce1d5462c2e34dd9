package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/domain"
)

type flushFunc func(roomId string, action domain.ControlAction)

type pendingBroadcast struct {
	timer  clockwork.Timer
	action domain.ControlAction
}

// debouncer coalesces bursts of controller toggles into at most one broadcast
// per room per window, keeping the trailing action. Seeks bypass the window:
// they are rare, latency-sensitive, and must not be followed by a staler
// toggle, so a seek also cancels whatever toggle is still pending for the room.
type debouncer struct {
	window  time.Duration
	clock   clockwork.Clock
	flush   flushFunc
	mu      sync.Mutex
	pending map[string]*pendingBroadcast
	stopped bool
}

func newDebouncer(clock clockwork.Clock, window time.Duration, flush flushFunc) *debouncer {
	return &debouncer{
		window:  window,
		clock:   clock,
		flush:   flush,
		pending: make(map[string]*pendingBroadcast),
	}
}

func (d *debouncer) Schedule(roomId string, action domain.ControlAction) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if action.Action == domain.ActionSeek {
		if p, ok := d.pending[roomId]; ok {
			p.timer.Stop()
			delete(d.pending, roomId)
		}
		d.mu.Unlock()

		d.flush(roomId, action)
		return
	}

	if p, ok := d.pending[roomId]; ok {
		p.action = action
		p.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}

	p := &pendingBroadcast{action: action}
	p.timer = d.clock.AfterFunc(d.window, func() { d.fire(roomId) })
	d.pending[roomId] = p
	d.mu.Unlock()
}

func (d *debouncer) fire(roomId string) {
	d.mu.Lock()
	p, ok := d.pending[roomId]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, roomId)
	action := p.action
	d.mu.Unlock()

	d.flush(roomId, action)
}

// StopRoom drops the room's pending broadcast, if any. Called on room end so
// timers do not leak.
func (d *debouncer) StopRoom(roomId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[roomId]; ok {
		p.timer.Stop()
		delete(d.pending, roomId)
	}
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for roomId, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, roomId)
	}
}
