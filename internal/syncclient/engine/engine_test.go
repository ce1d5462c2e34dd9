package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/syncclient/player"
)

type fakePlayer struct {
	mu          sync.Mutex
	pos         float64
	st          player.State
	ready       bool
	seekSettles bool
	calls       []string
	seeks       []float64
	events      chan player.StateChange
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		st:          player.StatePaused,
		ready:       true,
		seekSettles: true,
		events:      make(chan player.StateChange, 16),
	}
}

func (f *fakePlayer) Position() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakePlayer) SeekTo(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "seek")
	f.seeks = append(f.seeks, seconds)
	if f.seekSettles {
		f.pos = seconds
	}
	return nil
}

func (f *fakePlayer) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "play")
	f.st = player.StatePlaying
	return nil
}

func (f *fakePlayer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pause")
	f.st = player.StatePaused
	return nil
}

func (f *fakePlayer) State() (player.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st, nil
}

func (f *fakePlayer) Events() <-chan player.StateChange { return f.events }

func (f *fakePlayer) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakePlayer) Close() error { return nil }

func (f *fakePlayer) setPos(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *fakePlayer) setReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakePlayer) state() player.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakePlayer) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakePlayer) callTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePlayer) lastSeek() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seeks) == 0 {
		return 0, false
	}
	return f.seeks[len(f.seeks)-1], true
}

type emitRecord struct {
	action  domain.ActionType
	seconds float64
}

type emitRecorder struct {
	mu      sync.Mutex
	records []emitRecord
}

func (r *emitRecorder) emit(_ context.Context, action domain.ActionType, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, emitRecord{action: action, seconds: seconds})
}

func (r *emitRecorder) all() []emitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitRecord(nil), r.records...)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFollower(t *testing.T) (*Engine, *fakePlayer, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	fp := newFakePlayer()
	return New(fp, RoleFollower, nil, fc, newTestLogger(), nil), fp, fc
}

// fastConfig shrinks every delay to about a millisecond so apply paths that
// must run to exhaustion complete under a real clock.
func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.VerifyBackoffBase = time.Millisecond
	cfg.VerifyBackoffStep = time.Millisecond
	cfg.PlayVerifyDelay = time.Millisecond
	cfg.NotReadyBase = time.Millisecond
	cfg.NotReadyCap = 5 * time.Millisecond
	cfg.SuppressionMin = time.Millisecond
	cfg.SuppressionCap = 2 * time.Millisecond
	return cfg
}

func TestTargetTime(t *testing.T) {
	eng, _, fc := newFollower(t)

	t.Run("delayed play advances target", func(t *testing.T) {
		target := eng.targetTime(Action{
			Action:     domain.ActionPlay,
			Time:       10.0,
			ServerTime: fc.Now().UnixMilli() - 2000,
		}, false)
		assert.Greater(t, target, 10.0)
		assert.InDelta(t, 11.9, target, 0.001)
	})

	t.Run("fresh play uses raw time", func(t *testing.T) {
		target := eng.targetTime(Action{
			Action:     domain.ActionPlay,
			Time:       10.0,
			ServerTime: fc.Now().UnixMilli() - 50,
		}, false)
		assert.Equal(t, 10.0, target)
	})

	t.Run("seek drifts only when playback resumes", func(t *testing.T) {
		action := Action{
			Action:     domain.ActionSeek,
			Time:       10.0,
			ServerTime: fc.Now().UnixMilli() - 2000,
		}
		assert.InDelta(t, 11.9, eng.targetTime(action, true), 0.001)
		assert.Equal(t, 10.0, eng.targetTime(action, false))
	})

	t.Run("pause never drifts", func(t *testing.T) {
		old := fc.Now().UnixMilli() - 2000
		assert.Equal(t, 10.0, eng.targetTime(Action{Action: domain.ActionPause, Time: 10.0, ServerTime: old}, true))
		assert.Equal(t, 10.0, eng.targetTime(Action{Action: domain.ActionPause, Time: 10.0, ServerTime: old}, false))
	})
}

func TestApplyPlayCompensatesTransitDelay(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)

	eng.Apply(ctx, Action{
		Action:     domain.ActionPlay,
		VideoId:    "abc",
		Time:       30.0,
		ServerTime: fc.Now().UnixMilli() - 600,
	})

	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(150 * time.Millisecond)
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		return fp.callCount("play") == 1 && fp.state() == player.StatePlaying
	}, time.Second, 5*time.Millisecond)

	seek, ok := fp.lastSeek()
	require.True(t, ok)
	assert.InDelta(t, 30.6, seek, 0.2)
	assert.Greater(t, seek, 30.0)
}

func TestApplyPauseEndsPausedAtTarget(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)
	fp.Play()

	eng.Apply(ctx, Action{
		Action:     domain.ActionPause,
		VideoId:    "abc",
		Time:       41.5,
		ServerTime: fc.Now().UnixMilli(),
	})

	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		return fp.state() == player.StatePaused
	}, time.Second, 5*time.Millisecond)

	seek, ok := fp.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 41.5, seek)

	// The position settled, so no corrective re-seek follows.
	assert.Never(t, func() bool {
		return fp.callCount("seek") > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestApplySeekRestoresPriorPlayState(t *testing.T) {
	t.Run("seek while paused stays paused", func(t *testing.T) {
		ctx := context.Background()
		eng, fp, fc := newFollower(t)

		eng.Apply(ctx, Action{
			Action:     domain.ActionSeek,
			VideoId:    "abc",
			Time:       100.0,
			ServerTime: fc.Now().UnixMilli(),
		})

		require.NoError(t, fc.BlockUntilContext(ctx, 2))
		fc.Advance(150 * time.Millisecond)

		require.Eventually(t, func() bool {
			return fp.callCount("seek") == 1 && fp.state() == player.StatePaused
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, fp.callCount("play"))
	})

	t.Run("seek while playing resumes", func(t *testing.T) {
		ctx := context.Background()
		eng, fp, fc := newFollower(t)
		fp.Play()

		eng.Apply(ctx, Action{
			Action:     domain.ActionSeek,
			VideoId:    "abc",
			Time:       100.0,
			ServerTime: fc.Now().UnixMilli(),
		})

		require.NoError(t, fc.BlockUntilContext(ctx, 2))
		fc.Advance(150 * time.Millisecond)

		require.Eventually(t, func() bool {
			return fp.state() == player.StatePlaying
		}, time.Second, 5*time.Millisecond)
	})
}

func TestReapplyingSameSnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)

	action := Action{
		Action:     domain.ActionPause,
		VideoId:    "abc",
		Time:       41.5,
		ServerTime: fc.Now().UnixMilli(),
	}

	eng.Apply(ctx, action)
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		return fp.callCount("seek") == 1 && fp.state() == player.StatePaused
	}, time.Second, 5*time.Millisecond)

	eng.Apply(ctx, action)
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		return fp.callCount("seek") == 2
	}, time.Second, 5*time.Millisecond)

	pos, err := fp.Position()
	require.NoError(t, err)
	assert.InDelta(t, 41.5, pos, 0.001)
	assert.Equal(t, player.StatePaused, fp.state())
}

func TestApplyDropsStaleAction(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)

	eng.Apply(ctx, Action{
		Action:     domain.ActionPause,
		VideoId:    "abc",
		Time:       41.5,
		ServerTime: fc.Now().UnixMilli(),
	})

	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		return fp.state() == player.StatePaused
	}, time.Second, 5*time.Millisecond)

	eng.Apply(ctx, Action{
		Action:     domain.ActionSeek,
		VideoId:    "abc",
		Time:       10.0,
		ServerTime: fc.Now().UnixMilli() - 5000,
	})

	assert.Never(t, func() bool {
		seek, ok := fp.lastSeek()
		return ok && seek == 10.0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNewerActionSupersedesVerification(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)
	fp.seekSettles = false

	eng.Apply(ctx, Action{
		Action:     domain.ActionPlay,
		VideoId:    "abc",
		Time:       30.0,
		ServerTime: fc.Now().UnixMilli(),
	})
	require.NoError(t, fc.BlockUntilContext(ctx, 2))

	// A fresher pause arrives while the play is still verifying its seek.
	fp.mu.Lock()
	fp.seekSettles = true
	fp.mu.Unlock()
	eng.Apply(ctx, Action{
		Action:     domain.ActionPause,
		VideoId:    "abc",
		Time:       50.0,
		ServerTime: fc.Now().UnixMilli() + 10,
	})

	require.NoError(t, fc.BlockUntilContext(ctx, 3))
	fc.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool {
		seek, ok := fp.lastSeek()
		return ok && seek == 50.0 && fp.state() == player.StatePaused
	}, time.Second, 5*time.Millisecond)

	// The superseded play never reaches its play step.
	assert.Never(t, func() bool {
		return fp.callCount("play") > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestApplyRetriesUntilPlayerReady(t *testing.T) {
	ctx := context.Background()
	eng, fp, fc := newFollower(t)
	fp.setReady(false)

	eng.Apply(ctx, Action{
		Action:  domain.ActionPlay,
		VideoId: "abc",
		Time:    20.0,
	})

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fp.setReady(true)
	fc.Advance(time.Second)

	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(150 * time.Millisecond)
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		return fp.callCount("play") == 1
	}, time.Second, 5*time.Millisecond)

	seek, ok := fp.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 20.0, seek)
}

func TestControllerDebouncesStateFlips(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	fp := newFakePlayer()
	fp.setPos(12.3)
	rec := &emitRecorder{}
	eng := New(fp, RoleController, rec.emit, fc, newTestLogger(), nil)

	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePaused, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 12.3})

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	got := rec.all()[0]
	assert.Equal(t, domain.ActionPlay, got.action)
	assert.Equal(t, 12.3, got.seconds)
}

func TestControllerDetectsManualSeek(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	fp := newFakePlayer()
	rec := &emitRecorder{}
	eng := New(fp, RoleController, rec.emit, fc, newTestLogger(), nil)

	fp.setPos(10)
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 10})

	// Normal progression over one poll interval is not a seek.
	fp.setPos(11)
	eng.pollManualSeek(ctx)
	assert.Empty(t, rec.all())

	// A forward jump beyond the poll interval plus margin is.
	fp.setPos(50)
	eng.pollManualSeek(ctx)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, domain.ActionSeek, rec.all()[0].action)
	assert.Equal(t, 50.0, rec.all()[0].seconds)

	// So is any backward motion.
	fp.setPos(48)
	eng.pollManualSeek(ctx)
	require.Len(t, rec.all(), 2)
	assert.Equal(t, domain.ActionSeek, rec.all()[1].action)
}

func TestSeekVerificationExhaustionStillPlays(t *testing.T) {
	ctx := context.Background()
	fp := newFakePlayer()
	fp.seekSettles = false
	eng := New(fp, RoleFollower, nil, clockwork.NewRealClock(), newTestLogger(), fastConfig())

	eng.Apply(ctx, Action{
		Action:  domain.ActionPlay,
		VideoId: "abc",
		Time:    30.0,
	})

	// Every verification attempt misses, yet playback still starts at the
	// best achieved position instead of blocking.
	require.Eventually(t, func() bool {
		return fp.callCount("play") == 1 && fp.state() == player.StatePlaying
	}, time.Second, 2*time.Millisecond)

	// The initial seek plus one corrective re-seek per exhausted attempt.
	assert.Equal(t, 8, fp.callCount("seek"))
}

func TestApplyDropsActionWhenPlayerNeverReady(t *testing.T) {
	ctx := context.Background()
	fp := newFakePlayer()
	fp.setReady(false)
	eng := New(fp, RoleFollower, nil, clockwork.NewRealClock(), newTestLogger(), fastConfig())

	eng.Apply(ctx, Action{
		Action:  domain.ActionPlay,
		VideoId: "abc",
		Time:    20.0,
	})

	// All retry attempts exhaust and the action is dropped: the player is
	// never commanded.
	assert.Never(t, func() bool {
		return fp.callTotal() > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestUnstampedActionKeepsStaleTracking(t *testing.T) {
	ctx := context.Background()
	fp := newFakePlayer()
	eng := New(fp, RoleFollower, nil, clockwork.NewRealClock(), newTestLogger(), fastConfig())

	stamp := time.Now().UnixMilli()
	eng.Apply(ctx, Action{
		Action:     domain.ActionPause,
		VideoId:    "abc",
		Time:       41.5,
		ServerTime: stamp,
	})
	require.Eventually(t, func() bool {
		seek, ok := fp.lastSeek()
		return ok && seek == 41.5 && fp.state() == player.StatePaused
	}, time.Second, 2*time.Millisecond)

	// A locally synthesized, unstamped action applies without resetting the
	// high-water mark.
	eng.Apply(ctx, Action{
		Action:  domain.ActionSeek,
		VideoId: "abc",
		Time:    20.0,
	})
	require.Eventually(t, func() bool {
		seek, ok := fp.lastSeek()
		return ok && seek == 20.0
	}, time.Second, 2*time.Millisecond)

	// A broadcast older than the first one is still stale.
	eng.Apply(ctx, Action{
		Action:     domain.ActionSeek,
		VideoId:    "abc",
		Time:       10.0,
		ServerTime: stamp - 5000,
	})
	assert.Never(t, func() bool {
		seek, ok := fp.lastSeek()
		return ok && seek == 10.0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestControllerDebouncesSuccessiveBursts(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	fp := newFakePlayer()
	fp.setPos(12.3)
	rec := &emitRecorder{}
	eng := New(fp, RoleController, rec.emit, fc, newTestLogger(), nil)

	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePaused, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 12.3})

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ActionPlay, rec.all()[0].action)

	// A burst after the first flush coalesces again instead of riding the
	// expired timer.
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePaused, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 12.3})
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePaused, Position: 12.3})

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ActionPause, rec.all()[1].action)

	assert.Never(t, func() bool {
		return len(rec.all()) > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSuppressionBlocksOwnCommands(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	fp := newFakePlayer()
	rec := &emitRecorder{}
	eng := New(fp, RoleController, rec.emit, fc, newTestLogger(), nil)

	eng.suppressFor(time.Second)
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePlaying, Position: 5})

	assert.Never(t, func() bool {
		return len(rec.all()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	// After the flag is released, state changes emit again.
	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		return !eng.isSuppressed()
	}, time.Second, 5*time.Millisecond)
	eng.handlePlayerEvent(ctx, player.StateChange{State: player.StatePaused, Position: 5})

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ActionPause, rec.all()[0].action)
}
