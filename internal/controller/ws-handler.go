package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/service/room"
	"github.com/watchroom/server/pkg/ctxlogger"
)

type JoinInput struct {
	VideoId             string `json:"video_id" validate:"required"`
	Username            string `json:"username" validate:"required,max=32"`
	MemberId            string `json:"member_id"`
	IsCreator           bool   `json:"is_creator"`
	RequestInitialState bool   `json:"request_initial_state"`
}

type JoinedOutput struct {
	MemberId   string          `json:"member_id"`
	IsCreator  bool            `json:"is_creator"`
	VideoState *room.SyncState `json:"video_state,omitempty"`
}

type JoinErrorOutput struct {
	Message string `json:"message"`
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleWS upgrades the connection and performs the join handshake: the first
// frame must be a JOIN. After a successful join the connection is handed to
// the ws router until it drops.
func (c *controller) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roomId := chi.URLParam(r, "room-id")
	if roomId == "" {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.InfoContext(ctx, "failed to upgrade connection", "error", err)
		return
	}

	memberId, err := c.join(ctx, conn, roomId)
	if err != nil {
		c.logger.InfoContext(ctx, "join failed", "room_id", roomId, "error", err)
		c.sender.Send(conn, "JOIN_ERROR", JoinErrorOutput{Message: "cannot join room"})
		conn.Close()
		c.sender.Forget(conn)
		return
	}

	ctx = c.withRoomId(ctx, roomId)
	ctx = c.withMemberId(ctx, memberId)
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomId))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("member_id", memberId))

	if err := c.wsRouter.ServeConn(ctx, conn); err != nil {
		c.logger.DebugContext(ctx, "connection closed", "error", err)
	}

	if err := c.roomService.DisconnectMember(ctx, &room.DisconnectMemberParams{Conn: conn}); err != nil {
		c.logger.InfoContext(ctx, "failed to disconnect member", "error", err)
	}
}

func (c *controller) join(ctx context.Context, conn *websocket.Conn, roomId string) (string, error) {
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read join message: %w", err)
	}
	if msg.Type != "JOIN" {
		return "", fmt.Errorf("expected JOIN, got %q", msg.Type)
	}

	var input JoinInput
	if err := json.Unmarshal(msg.Payload, &input); err != nil {
		return "", fmt.Errorf("failed to unmarshal join payload: %w", err)
	}

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return "", fmt.Errorf("validation failed: %v", validationErrors)
	}

	joinResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		Conn:                conn,
		RoomId:              roomId,
		VideoId:             input.VideoId,
		Username:            input.Username,
		MemberId:            input.MemberId,
		IsCreator:           input.IsCreator,
		RequestInitialState: input.RequestInitialState,
	})
	if err != nil {
		return "", fmt.Errorf("failed to join room: %w", err)
	}

	if err := c.sender.Send(conn, "JOINED", JoinedOutput{
		MemberId:   joinResp.MemberId,
		IsCreator:  joinResp.IsCreator,
		VideoState: joinResp.State,
	}); err != nil {
		return "", fmt.Errorf("failed to write join reply: %w", err)
	}

	return joinResp.MemberId, nil
}

type EmptyInput struct{}

func (c *controller) handleAlive(context.Context, *websocket.Conn, EmptyInput) error {
	return nil
}

type ControlActionInput struct {
	Action  string  `json:"action" validate:"required,oneof=play pause seek"`
	VideoId string  `json:"video_id" validate:"required"`
	Time    float64 `json:"time"`
}

func (c *controller) handleControlAction(ctx context.Context, conn *websocket.Conn, input ControlActionInput) error {
	roomId := c.getRoomIdFromCtx(ctx)
	memberId := c.getMemberIdFromCtx(ctx)

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("validation failed: %v", validationErrors)
	}

	if err := c.roomService.HandleControlAction(ctx, &room.HandleControlActionParams{
		RoomId:   roomId,
		VideoId:  input.VideoId,
		Action:   domain.ActionType(input.Action),
		Time:     input.Time,
		SenderId: memberId,
	}); err != nil {
		return fmt.Errorf("failed to handle control action: %w", err)
	}

	return nil
}

type RequestStateInput struct {
	VideoId string `json:"video_id" validate:"required"`
}

type StateUpdateOutput struct {
	IsRequestedUpdate bool            `json:"is_requested_update"`
	VideoState        *room.SyncState `json:"video_state,omitempty"`
}

func (c *controller) handleRequestState(ctx context.Context, conn *websocket.Conn, input RequestStateInput) error {
	roomId := c.getRoomIdFromCtx(ctx)
	memberId := c.getMemberIdFromCtx(ctx)

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("validation failed: %v", validationErrors)
	}

	requestStateResp, err := c.roomService.RequestState(ctx, &room.RequestStateParams{
		RoomId:   roomId,
		VideoId:  input.VideoId,
		SenderId: memberId,
	})
	if err != nil {
		return fmt.Errorf("failed to request state: %w", err)
	}

	if err := c.sender.Send(conn, "STATE_UPDATE", StateUpdateOutput{
		IsRequestedUpdate: true,
		VideoState:        requestStateResp.State,
	}); err != nil {
		return fmt.Errorf("failed to write state update: %w", err)
	}

	return nil
}

func (c *controller) handleEndRoom(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	roomId := c.getRoomIdFromCtx(ctx)
	memberId := c.getMemberIdFromCtx(ctx)

	if err := c.roomService.EndRoom(ctx, &room.EndRoomParams{
		RoomId:   roomId,
		SenderId: memberId,
	}); err != nil {
		return fmt.Errorf("failed to end room: %w", err)
	}

	return nil
}
