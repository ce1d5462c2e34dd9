package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/syncclient/player"
)

type Role int

const (
	RoleFollower Role = iota
	RoleController
)

// Action is a playback instruction received from the room: a live broadcast,
// a join snapshot or a requested state update, all converging through Apply.
type Action struct {
	Action     domain.ActionType
	VideoId    string
	Time       float64
	ServerTime int64
}

// EmitFunc sends a locally observed controller action to the room.
type EmitFunc func(ctx context.Context, action domain.ActionType, seconds float64)

type Config struct {
	// Network delay below DriftTolerance is ignored when advancing a play
	// target; anything above it is added to the seek position.
	DriftTolerance time.Duration
	SeekTolerance  float64
	PauseTolerance float64

	SeekVerifyAttempts int
	VerifyBackoffBase  time.Duration
	VerifyBackoffStep  time.Duration
	PlayVerifyAttempts int
	PlayVerifyDelay    time.Duration

	NotReadyBase     time.Duration
	NotReadyFactor   float64
	NotReadyAttempts int
	NotReadyCap      time.Duration

	SuppressionMin time.Duration
	SuppressionCap time.Duration

	EmitDebounce   time.Duration
	PollInterval   time.Duration
	ManualSeekJump float64
}

func DefaultConfig() *Config {
	return &Config{
		DriftTolerance:     100 * time.Millisecond,
		SeekTolerance:      1.0,
		PauseTolerance:     1.5,
		SeekVerifyAttempts: 7,
		VerifyBackoffBase:  150 * time.Millisecond,
		VerifyBackoffStep:  75 * time.Millisecond,
		PlayVerifyAttempts: 3,
		PlayVerifyDelay:    200 * time.Millisecond,
		NotReadyBase:       time.Second,
		NotReadyFactor:     1.5,
		NotReadyAttempts:   5,
		NotReadyCap:        5 * time.Second,
		SuppressionMin:     500 * time.Millisecond,
		SuppressionCap:     3 * time.Second,
		EmitDebounce:       300 * time.Millisecond,
		PollInterval:       time.Second,
		ManualSeekJump:     3.5,
	}
}

// Engine converges a local player on the room's playback state. A follower
// applies incoming actions with drift compensation and seek verification; a
// controller observes the player and emits actions for the room. Both roles
// run Apply for join snapshots, so suppression is shared: the engine's own
// programmatic seeks and plays must never be re-observed as user actions.
type Engine struct {
	player player.Player
	clock  clockwork.Clock
	logger *slog.Logger
	role   Role
	emit   EmitFunc
	cfg    *Config

	generation     atomic.Uint64
	lastServerTime atomic.Int64

	suppressMu    sync.Mutex
	suppressed    bool
	suppressTimer clockwork.Timer

	debounceMu      sync.Mutex
	pendingAction   domain.ActionType
	debouncePending bool
	debounceTimer   clockwork.Timer

	// Run goroutine only.
	playing     bool
	lastPolled  float64
	polledValid bool
}

func New(p player.Player, role Role, emit EmitFunc, clock clockwork.Clock, logger *slog.Logger, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if emit == nil {
		emit = func(context.Context, domain.ActionType, float64) {}
	}
	return &Engine{
		player: p,
		clock:  clock,
		logger: logger,
		role:   role,
		emit:   emit,
		cfg:    cfg,
	}
}

// Apply schedules an incoming action. Actions stamped older than the last
// applied one are dropped, and a newer action supersedes any in-flight
// verification loop: last action wins, stale verification never does.
// Unstamped actions apply without touching the stale tracking.
func (e *Engine) Apply(ctx context.Context, action Action) {
	if action.ServerTime != 0 {
		for {
			last := e.lastServerTime.Load()
			if action.ServerTime < last {
				e.logger.DebugContext(ctx, "dropping stale action",
					"action", action.Action,
					"server_time", action.ServerTime,
				)
				return
			}
			if e.lastServerTime.CompareAndSwap(last, action.ServerTime) {
				break
			}
		}
	}

	gen := e.generation.Add(1)
	go e.apply(ctx, gen, action)
}

func (e *Engine) apply(ctx context.Context, gen uint64, action Action) {
	if !e.waitReady(ctx, gen) {
		return
	}

	st, err := e.player.State()
	wasPlaying := err == nil && st == player.StatePlaying

	target := e.targetTime(action, wasPlaying)
	e.suppressFor(e.suppressionWindow(target))

	switch action.Action {
	case domain.ActionPause:
		e.applyPause(ctx, gen, target)
	case domain.ActionPlay:
		e.applyPlay(ctx, gen, target)
	case domain.ActionSeek:
		e.applySeek(ctx, gen, target, wasPlaying)
	}
}

// targetTime advances the target by the transit delay of the action whenever
// playback continues after it lands: a play always does, a seek only when the
// player was playing when it arrived. A pause target does not drift while the
// message is in flight, so it is used as-is.
func (e *Engine) targetTime(action Action, wasPlaying bool) float64 {
	if action.ServerTime == 0 {
		return action.Time
	}
	switch action.Action {
	case domain.ActionPlay:
	case domain.ActionSeek:
		if !wasPlaying {
			return action.Time
		}
	default:
		return action.Time
	}
	lagMs := float64(e.clock.Now().UnixMilli()-action.ServerTime) - float64(e.cfg.DriftTolerance.Milliseconds())
	if lagMs <= 0 {
		return action.Time
	}
	return action.Time + lagMs/1000
}

// waitReady retries until the player is initialized. Player startup is
// asynchronous and races with early sync events, so this is a normal path,
// not an error.
func (e *Engine) waitReady(ctx context.Context, gen uint64) bool {
	if e.player.Ready() {
		return true
	}
	delay := e.cfg.NotReadyBase
	for attempt := 0; attempt < e.cfg.NotReadyAttempts; attempt++ {
		if !e.wait(ctx, gen, delay) {
			return false
		}
		if e.player.Ready() {
			return true
		}
		delay = time.Duration(float64(delay) * e.cfg.NotReadyFactor)
		if delay > e.cfg.NotReadyCap {
			delay = e.cfg.NotReadyCap
		}
	}
	e.logger.InfoContext(ctx, "player never became ready, dropping action")
	return false
}

// wait sleeps for d and reports whether this apply is still the current one.
func (e *Engine) wait(ctx context.Context, gen uint64, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
	}
	return e.generation.Load() == gen
}

func (e *Engine) applyPause(ctx context.Context, gen uint64, target float64) {
	e.player.SeekTo(target)
	e.player.Pause()

	if !e.wait(ctx, gen, e.cfg.PlayVerifyDelay) {
		return
	}
	pos, err := e.player.Position()
	if err == nil && math.Abs(pos-target) > e.cfg.PauseTolerance {
		e.player.SeekTo(target)
	}
}

func (e *Engine) applyPlay(ctx context.Context, gen uint64, target float64) {
	// Pause first so the seek lands on a deterministic base.
	e.player.Pause()
	e.player.SeekTo(target)
	if !e.verifySeek(ctx, gen, target) {
		return
	}

	e.player.Play()
	for attempt := 0; attempt < e.cfg.PlayVerifyAttempts; attempt++ {
		if !e.wait(ctx, gen, e.cfg.PlayVerifyDelay) {
			return
		}
		st, err := e.player.State()
		if err == nil && st == player.StatePlaying {
			return
		}
		e.player.Play()
	}
	e.logger.InfoContext(ctx, "play did not take effect after retries", "target", target)
}

func (e *Engine) applySeek(ctx context.Context, gen uint64, target float64, wasPlaying bool) {
	e.player.Pause()
	e.player.SeekTo(target)
	if !e.verifySeek(ctx, gen, target) {
		return
	}
	// A seek while paused must stay paused.
	if wasPlaying {
		e.player.Play()
	} else {
		e.player.Pause()
	}
}

// verifySeek polls until the player settles near target, re-seeking on each
// miss. Exhausting all attempts is not fatal: the engine proceeds at the best
// achieved position rather than blocking playback. Returns false only when
// superseded or cancelled.
func (e *Engine) verifySeek(ctx context.Context, gen uint64, target float64) bool {
	for attempt := 0; attempt < e.cfg.SeekVerifyAttempts; attempt++ {
		delay := e.cfg.VerifyBackoffBase + time.Duration(attempt)*e.cfg.VerifyBackoffStep
		if !e.wait(ctx, gen, delay) {
			return false
		}

		pos, err := e.player.Position()
		if err != nil {
			continue
		}
		if target > e.cfg.SeekTolerance && pos < 0.5 {
			// The player fell back to the start: the seek was lost entirely.
			e.player.SeekTo(target)
			continue
		}
		if math.Abs(pos-target) <= e.cfg.SeekTolerance {
			return true
		}
		e.player.SeekTo(target)
	}
	e.logger.InfoContext(ctx, "seek verification exhausted, continuing at current position", "target", target)
	return true
}

// suppressionWindow scales with the target so long seeks get a little more
// settling room, clamped so the flag can never outlive the verification loop
// by much and never sticks indefinitely.
func (e *Engine) suppressionWindow(target float64) time.Duration {
	d := time.Duration(target*10) * time.Millisecond
	if d < e.cfg.SuppressionMin {
		d = e.cfg.SuppressionMin
	}
	if d > e.cfg.SuppressionCap {
		d = e.cfg.SuppressionCap
	}
	return d
}

func (e *Engine) suppressFor(d time.Duration) {
	e.suppressMu.Lock()
	defer e.suppressMu.Unlock()

	e.suppressed = true
	if e.suppressTimer != nil {
		e.suppressTimer.Stop()
	}
	e.suppressTimer = e.clock.AfterFunc(d, func() {
		e.suppressMu.Lock()
		e.suppressed = false
		e.suppressMu.Unlock()
	})
}

func (e *Engine) isSuppressed() bool {
	e.suppressMu.Lock()
	defer e.suppressMu.Unlock()
	return e.suppressed
}

// Run drives the controller role: player state changes are debounced into
// play/pause emissions, and a periodic poll detects manual seeks, which the
// player backend never reports as explicit events. Returns immediately for
// followers. Blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	if e.role != RoleController {
		return
	}

	ticker := e.clock.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelDebounce()
			return
		case change, ok := <-e.player.Events():
			if !ok {
				return
			}
			e.handlePlayerEvent(ctx, change)
		case <-ticker.Chan():
			e.pollManualSeek(ctx)
		}
	}
}

func (e *Engine) handlePlayerEvent(ctx context.Context, change player.StateChange) {
	switch change.State {
	case player.StatePlaying:
		if e.playing {
			return
		}
		e.playing = true
		e.lastPolled = change.Position
		e.polledValid = true
		if !e.isSuppressed() {
			e.scheduleEmit(ctx, domain.ActionPlay)
		}
	case player.StatePaused:
		if !e.playing {
			return
		}
		e.playing = false
		if !e.isSuppressed() {
			e.scheduleEmit(ctx, domain.ActionPause)
		}
	}
}

// scheduleEmit coalesces a burst of state flips into one trailing-edge
// emission carrying the latest action. An expired timer is never Reset, since
// resetting it re-arms it alongside the replacement; the pending flag, cleared
// by the fired callback, decides whether a live timer exists.
func (e *Engine) scheduleEmit(ctx context.Context, action domain.ActionType) {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	e.pendingAction = action
	if e.debouncePending && e.debounceTimer.Reset(e.cfg.EmitDebounce) {
		return
	}

	e.debouncePending = true
	e.debounceTimer = e.clock.AfterFunc(e.cfg.EmitDebounce, func() {
		e.debounceMu.Lock()
		if !e.debouncePending {
			e.debounceMu.Unlock()
			return
		}
		e.debouncePending = false
		pending := e.pendingAction
		e.debounceMu.Unlock()

		pos, err := e.player.Position()
		if err != nil {
			return
		}
		e.emit(ctx, pending, pos)
	})
}

func (e *Engine) cancelDebounce() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	e.debouncePending = false
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
}

// pollManualSeek classifies a position jump beyond what one poll interval of
// normal playback can produce, or any backward motion, as a manual seek and
// emits it immediately.
func (e *Engine) pollManualSeek(ctx context.Context) {
	if !e.playing || e.isSuppressed() {
		e.polledValid = false
		return
	}

	pos, err := e.player.Position()
	if err != nil {
		return
	}
	if e.polledValid {
		delta := pos - e.lastPolled
		if delta > e.cfg.ManualSeekJump || delta < 0 {
			e.cancelDebounce()
			e.emit(ctx, domain.ActionSeek, pos)
		}
	}
	e.lastPolled = pos
	e.polledValid = true
}
