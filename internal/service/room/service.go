package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/repository/member"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrMemberNotFound   = errors.New("member not found")
	ErrRoomNotFound     = errors.New("room not found")
)

type iVideoStateRepo interface {
	ApplyAction(roomId string, action domain.ControlAction) domain.VideoState
	Snapshot(roomId, videoId string) (domain.VideoState, error)
	Remove(roomId string)
}

type iMemberRepo interface {
	SetMember(context.Context, *member.SetMemberParams) error
	GetMember(ctx context.Context, roomId, memberId string) (member.Member, error)
	GetRoomCreatorId(ctx context.Context, roomId string) (string, error)
	UpdateMemberIsOnline(ctx context.Context, roomId, memberId string, isOnline bool) error
	RemoveMember(ctx context.Context, roomId, memberId string) error
}

type iConnRepo interface {
	Add(conn *websocket.Conn, memberId, roomId string) error
	RemoveByConn(conn *websocket.Conn) (string, error)
	RemoveByMemberId(memberId string) error
	GetConn(memberId string) (*websocket.Conn, error)
	GetMemberId(conn *websocket.Conn) (string, error)
	GetMemberRoomId(memberId string) (string, error)
	GetConnsByRoomId(roomId string, except *websocket.Conn) []*websocket.Conn
}

type iSender interface {
	Send(conn *websocket.Conn, msgType string, payload any) error
	Close(conn *websocket.Conn) error
	Forget(conn *websocket.Conn)
}

type Config struct {
	// DebounceWindow bounds how often controller toggles are rebroadcast.
	DebounceWindow time.Duration
}

type service struct {
	videoStateRepo iVideoStateRepo
	memberRepo     iMemberRepo
	connRepo       iConnRepo
	sender         iSender
	debouncer      *debouncer
	clock          clockwork.Clock
	logger         *slog.Logger
}

func NewService(
	videoStateRepo iVideoStateRepo,
	memberRepo iMemberRepo,
	connRepo iConnRepo,
	sender iSender,
	clock clockwork.Clock,
	logger *slog.Logger,
	cfg *Config,
) *service {
	s := &service{
		videoStateRepo: videoStateRepo,
		memberRepo:     memberRepo,
		connRepo:       connRepo,
		sender:         sender,
		clock:          clock,
		logger:         logger,
	}
	s.debouncer = newDebouncer(clock, cfg.DebounceWindow, s.flushBroadcast)

	return s
}

func (s *service) Close() {
	s.debouncer.Stop()
}
