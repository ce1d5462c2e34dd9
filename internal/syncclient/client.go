package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/syncclient/engine"
)

// ErrResyncFailed is returned when the join sequence exhausts its retry.
var ErrResyncFailed = errors.New("failed to resync with room")

type iEngine interface {
	Apply(ctx context.Context, action engine.Action)
}

type Config struct {
	// URL is the full websocket endpoint including the room path,
	// e.g. ws://host:8080/ws/{room-id}.
	URL       string
	VideoId   string
	Username  string
	MemberId  string
	IsCreator bool

	JoinTimeout    time.Duration
	JoinRetryDelay time.Duration
	AliveInterval  time.Duration
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.JoinTimeout == 0 {
		out.JoinTimeout = 5 * time.Second
	}
	if out.JoinRetryDelay == 0 {
		out.JoinRetryDelay = 2 * time.Second
	}
	if out.AliveInterval == 0 {
		out.AliveInterval = 30 * time.Second
	}
	return &out
}

// Client owns the room connection: the join handshake, the read loop feeding
// broadcasts into the sync engine, and the keepalive. A join snapshot and a
// requested state update both converge through the same engine.Apply path as
// live broadcasts.
type Client struct {
	cfg    *Config
	engine iEngine
	clock  clockwork.Clock
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	memberId  string
	isCreator bool

	done chan struct{}
}

func NewClient(cfg *Config, eng iEngine, clock clockwork.Clock, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		engine: eng,
		clock:  clock,
		logger: logger,
		done:   make(chan struct{}),
	}
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	VideoId             string `json:"video_id"`
	Username            string `json:"username"`
	MemberId            string `json:"member_id,omitempty"`
	IsCreator           bool   `json:"is_creator"`
	RequestInitialState bool   `json:"request_initial_state"`
}

type videoStatePayload struct {
	VideoId     string  `json:"video_id"`
	CurrentTime float64 `json:"current_time"`
	IsPlaying   bool    `json:"is_playing"`
	ServerTime  int64   `json:"server_time"`
	SyncAction  string  `json:"sync_action"`
}

type joinedPayload struct {
	MemberId   string             `json:"member_id"`
	IsCreator  bool               `json:"is_creator"`
	VideoState *videoStatePayload `json:"video_state"`
}

type joinErrorPayload struct {
	Message string `json:"message"`
}

type playerSyncPayload struct {
	Action     string  `json:"action"`
	Time       float64 `json:"time"`
	VideoId    string  `json:"video_id"`
	ServerTime int64   `json:"server_time"`
}

type stateUpdatePayload struct {
	IsRequestedUpdate bool               `json:"is_requested_update"`
	VideoState        *videoStatePayload `json:"video_state"`
}

type controlActionPayload struct {
	Action  string  `json:"action"`
	VideoId string  `json:"video_id"`
	Time    float64 `json:"time"`
}

type requestStatePayload struct {
	VideoId string `json:"video_id"`
}

// JoinRoom performs the join handshake and starts the read loop. A failed or
// timed-out attempt is retried once after a fixed delay before giving up.
func (c *Client) JoinRoom(ctx context.Context) error {
	err := c.joinOnce(ctx)
	if err != nil {
		c.logger.InfoContext(ctx, "join attempt failed, retrying", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.JoinRetryDelay):
		}
		if err = c.joinOnce(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrResyncFailed, err)
		}
	}

	go c.readLoop(ctx)
	go c.keepAlive(ctx)

	return nil
}

func (c *Client) joinOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial room: %w", err)
	}

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	memberId := c.memberId
	c.mu.Unlock()
	if memberId == "" {
		memberId = c.cfg.MemberId
	}

	err := conn.WriteJSON(wsMessage{Type: "JOIN", Payload: mustMarshal(joinPayload{
		VideoId:             c.cfg.VideoId,
		Username:            c.cfg.Username,
		MemberId:            memberId,
		IsCreator:           c.cfg.IsCreator,
		RequestInitialState: true,
	})})
	if err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.JoinTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read join reply: %w", err)
	}

	switch msg.Type {
	case "JOINED":
		var joined joinedPayload
		if err := json.Unmarshal(msg.Payload, &joined); err != nil {
			return fmt.Errorf("failed to unmarshal join reply: %w", err)
		}

		c.mu.Lock()
		c.memberId = joined.MemberId
		c.isCreator = joined.IsCreator
		c.mu.Unlock()

		if joined.VideoState != nil {
			c.applyState(ctx, joined.VideoState)
		}
		return nil
	case "JOIN_ERROR":
		var joinErr joinErrorPayload
		if err := json.Unmarshal(msg.Payload, &joinErr); err != nil {
			return fmt.Errorf("failed to unmarshal join error: %w", err)
		}
		return fmt.Errorf("room rejected join: %s", joinErr.Message)
	default:
		return fmt.Errorf("expected JOINED, got %q", msg.Type)
	}
}

func (c *Client) applyState(ctx context.Context, state *videoStatePayload) {
	c.engine.Apply(ctx, engine.Action{
		Action:     domain.ActionType(state.SyncAction),
		VideoId:    state.VideoId,
		Time:       state.CurrentTime,
		ServerTime: state.ServerTime,
	})
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.InfoContext(ctx, "connection lost", "error", err)
			}
			return
		}

		switch msg.Type {
		case "PLAYER_SYNC":
			var sync playerSyncPayload
			if err := json.Unmarshal(msg.Payload, &sync); err != nil {
				c.logger.InfoContext(ctx, "failed to unmarshal sync broadcast", "error", err)
				continue
			}
			c.engine.Apply(ctx, engine.Action{
				Action:     domain.ActionType(sync.Action),
				VideoId:    sync.VideoId,
				Time:       sync.Time,
				ServerTime: sync.ServerTime,
			})
		case "STATE_UPDATE":
			var update stateUpdatePayload
			if err := json.Unmarshal(msg.Payload, &update); err != nil {
				c.logger.InfoContext(ctx, "failed to unmarshal state update", "error", err)
				continue
			}
			if update.VideoState != nil {
				c.applyState(ctx, update.VideoState)
			}
		default:
			c.logger.DebugContext(ctx, "ignoring message", "type", msg.Type)
		}
	}
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.AliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.Chan():
			if err := c.send("ALIVE", struct{}{}); err != nil {
				return
			}
		}
	}
}

// OnVisibilityRegained requests a fresh state snapshot over the existing
// connection. The reply converges through the read loop; no rejoin happens.
func (c *Client) OnVisibilityRegained(ctx context.Context) error {
	if err := c.send("REQUEST_STATE", requestStatePayload{VideoId: c.cfg.VideoId}); err != nil {
		return fmt.Errorf("failed to request state: %w", err)
	}
	return nil
}

// SendControlAction reports a locally observed action to the room. Wired as
// the engine's emit function for the controller role.
func (c *Client) SendControlAction(ctx context.Context, action domain.ActionType, seconds float64) {
	err := c.send("CONTROL_ACTION", controlActionPayload{
		Action:  string(action),
		VideoId: c.cfg.VideoId,
		Time:    seconds,
	})
	if err != nil {
		c.logger.InfoContext(ctx, "failed to send control action", "action", action, "error", err)
	}
}

// EndRoom asks the server to tear the room down. Only honored for the
// room's creator.
func (c *Client) EndRoom(ctx context.Context) error {
	if err := c.send("END_ROOM", struct{}{}); err != nil {
		return fmt.Errorf("failed to send end room: %w", err)
	}
	return nil
}

// MemberId returns the server-assigned member id, used to resume the same
// identity on a later rejoin.
func (c *Client) MemberId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memberId
}

func (c *Client) IsCreator() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCreator
}

func (c *Client) send(msgType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(wsMessage{Type: msgType, Payload: mustMarshal(payload)})
}

func (c *Client) Close() error {
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
