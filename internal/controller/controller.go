package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/watchroom/server/internal/service/room"
	"github.com/watchroom/server/pkg/validator"
	"github.com/watchroom/server/pkg/wsrouter"
)

type iRoomService interface {
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	HandleControlAction(context.Context, *room.HandleControlActionParams) error
	RequestState(context.Context, *room.RequestStateParams) (room.RequestStateResponse, error)
	EndRoom(context.Context, *room.EndRoomParams) error
	DisconnectMember(context.Context, *room.DisconnectMemberParams) error
}

type iSender interface {
	Send(conn *websocket.Conn, msgType string, payload any) error
	Forget(conn *websocket.Conn)
}

type controller struct {
	roomService iRoomService
	sender      iSender
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	logger      *slog.Logger
	wsRouter    *wsrouter.WSRouter
}

func NewController(roomService iRoomService, sender iSender, logger *slog.Logger) *controller {
	c := &controller{
		roomService: roomService,
		sender:      sender,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate: validator.NewValidator(),
		logger:   logger,
	}
	c.wsRouter = c.getWSRouter()

	return c
}
