package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/watchroom/server/internal/repository/member"
)

type JoinRoomParams struct {
	Conn     *websocket.Conn
	RoomId   string
	VideoId  string
	Username string
	// MemberId is set on rejoin so the member keeps its identity and role.
	MemberId string
	// IsCreator is the client-asserted role. It is only trusted when the room
	// has no recorded creator yet; afterwards the room history wins.
	IsCreator           bool
	RequestInitialState bool
}

type JoinRoomResponse struct {
	MemberId  string
	IsCreator bool
	// State is nil when there is nothing to sync yet or when the initial
	// state was not requested.
	State *SyncState
}

func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	memberId := params.MemberId
	if memberId == "" {
		memberId = uuid.NewString()
	}

	isCreator, err := s.resolveRole(ctx, params.RoomId, memberId, params.IsCreator)
	if err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to resolve member role: %w", err)
	}

	if err := s.memberRepo.SetMember(ctx, &member.SetMemberParams{
		MemberId:  memberId,
		RoomId:    params.RoomId,
		Username:  params.Username,
		IsCreator: isCreator,
		IsOnline:  true,
	}); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to set member: %w", err)
	}

	// a stale connection of the same member may survive a rough reconnect
	s.connRepo.RemoveByMemberId(memberId)
	if err := s.connRepo.Add(params.Conn, memberId, params.RoomId); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to register connection: %w", err)
	}

	resp := JoinRoomResponse{MemberId: memberId, IsCreator: isCreator}

	if params.RequestInitialState {
		state, err := s.snapshotSync(params.RoomId, params.VideoId)
		if err != nil {
			return JoinRoomResponse{}, fmt.Errorf("failed to snapshot room state: %w", err)
		}
		resp.State = state
	}

	return resp, nil
}

// resolveRole decides whether the joining member is the room's controller.
// Rejoining members keep their recorded role. A claimed creator flag is
// accepted only while the room has no creator on record; this is a documented
// trust boundary, not an enforcement mechanism.
func (s *service) resolveRole(ctx context.Context, roomId, memberId string, claimed bool) (bool, error) {
	existing, err := s.memberRepo.GetMember(ctx, roomId, memberId)
	if err == nil {
		return existing.IsCreator, nil
	}
	if !errors.Is(err, member.ErrMemberNotFound) {
		return false, err
	}

	if !claimed {
		return false, nil
	}

	creatorId, err := s.memberRepo.GetRoomCreatorId(ctx, roomId)
	if err != nil {
		if errors.Is(err, member.ErrMemberNotFound) {
			return true, nil
		}
		return false, err
	}

	return creatorId == memberId, nil
}

type DisconnectMemberParams struct {
	Conn *websocket.Conn
}

// DisconnectMember releases the connection but keeps the member record and
// the room's video state: the controller dropping off and rejoining is the
// normal case, not room teardown.
func (s *service) DisconnectMember(ctx context.Context, params *DisconnectMemberParams) error {
	defer s.sender.Forget(params.Conn)

	memberId, err := s.connRepo.GetMemberId(params.Conn)
	if err != nil {
		return fmt.Errorf("failed to get member by connection: %w", err)
	}

	roomId, roomErr := s.connRepo.GetMemberRoomId(memberId)

	if _, err := s.connRepo.RemoveByConn(params.Conn); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}

	if roomErr == nil {
		if err := s.memberRepo.UpdateMemberIsOnline(ctx, roomId, memberId, false); err != nil {
			s.logger.InfoContext(ctx, "failed to mark member offline", "member_id", memberId, "error", err)
		}
	}

	return nil
}
