package mpv

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/watchroom/server/internal/syncclient/player"
)

const (
	observeTimePosId = 1
	observePauseId   = 2
	observeBufferId  = 3

	dialAttempts = 20
	dialDelay    = 200 * time.Millisecond
)

type command struct {
	Command []any `json:"command"`
}

type event struct {
	Event string `json:"event"`
	Name  string `json:"name"`
	Data  any    `json:"data"`
	Error string `json:"error"`
}

// Player drives an mpv instance over its JSON IPC socket. mpv must be started
// with --input-ipc-server pointing at the same path. Playback state is kept
// current by observing the time-pos, pause and paused-for-cache properties, so
// Position and State never block on the socket.
type Player struct {
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	position float64
	paused   bool
	buffer   bool
	ready    bool

	events chan player.StateChange
	done   chan struct{}
}

// NewPlayer connects to the mpv IPC socket at socketPath. mpv startup races
// with ours, so the dial is retried for a few seconds before giving up.
func NewPlayer(socketPath string) (*Player, error) {
	var conn net.Conn
	var err error
	for i := 0; i < dialAttempts; i++ {
		conn, err = dial(socketPath)
		if err == nil {
			break
		}
		time.Sleep(dialDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mpv socket: %w", err)
	}

	p := &Player{
		conn:   conn,
		events: make(chan player.StateChange, 16),
		done:   make(chan struct{}),
	}

	observed := []struct {
		id       int
		property string
	}{
		{observeTimePosId, "time-pos"},
		{observePauseId, "pause"},
		{observeBufferId, "paused-for-cache"},
	}
	for _, o := range observed {
		if err := p.send("observe_property", o.id, o.property); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to observe %s: %w", o.property, err)
		}
	}

	go p.listen()

	return p, nil
}

func dial(socketPath string) (net.Conn, error) {
	if strings.Contains(socketPath, ":") {
		return net.Dial("tcp", socketPath)
	}
	return net.Dial("unix", socketPath)
}

func (p *Player) send(args ...any) error {
	b, err := json.Marshal(command{Command: args})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.conn.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func (p *Player) listen() {
	decoder := json.NewDecoder(p.conn)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		var ev event
		if err := decoder.Decode(&ev); err != nil {
			return
		}
		if ev.Event != "property-change" {
			continue
		}

		p.mu.Lock()
		changed := false
		switch ev.Name {
		case "time-pos":
			if seconds, ok := ev.Data.(float64); ok {
				p.position = seconds
				p.ready = true
				changed = true
			}
		case "pause":
			if paused, ok := ev.Data.(bool); ok && paused != p.paused {
				p.paused = paused
				changed = true
			}
		case "paused-for-cache":
			if buffering, ok := ev.Data.(bool); ok && buffering != p.buffer {
				p.buffer = buffering
				changed = true
			}
		}
		change := player.StateChange{State: p.stateLocked(), Position: p.position}
		p.mu.Unlock()

		if !changed {
			continue
		}

		// Drop the oldest change if the consumer lags.
		select {
		case p.events <- change:
		default:
			select {
			case <-p.events:
			default:
			}
			select {
			case p.events <- change:
			default:
			}
		}
	}
}

func (p *Player) stateLocked() player.State {
	switch {
	case !p.ready:
		return player.StateUnstarted
	case p.buffer:
		return player.StateBuffering
	case p.paused:
		return player.StatePaused
	default:
		return player.StatePlaying
	}
}

func (p *Player) Position() (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ready {
		return 0, player.ErrNotReady
	}
	return p.position, nil
}

func (p *Player) SeekTo(seconds float64) error {
	return p.send("seek", seconds, "absolute")
}

func (p *Player) Play() error {
	return p.send("set_property", "pause", false)
}

func (p *Player) Pause() error {
	return p.send("set_property", "pause", true)
}

func (p *Player) State() (player.State, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stateLocked(), nil
}

func (p *Player) Events() <-chan player.StateChange {
	return p.events
}

func (p *Player) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *Player) Close() error {
	close(p.done)
	return p.conn.Close()
}
