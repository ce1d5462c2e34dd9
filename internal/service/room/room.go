package room

import (
	"context"
	"fmt"
)

type EndRoomParams struct {
	RoomId   string
	SenderId string
}

// EndRoom tears the room down: only the creator may end it. Video state and
// any pending broadcast are dropped so nothing leaks after the room is gone.
func (s *service) EndRoom(ctx context.Context, params *EndRoomParams) error {
	sender, err := s.memberRepo.GetMember(ctx, params.RoomId, params.SenderId)
	if err != nil {
		return fmt.Errorf("failed to get sender: %w", err)
	}

	if !sender.IsCreator {
		return ErrPermissionDenied
	}

	s.debouncer.StopRoom(params.RoomId)
	s.videoStateRepo.Remove(params.RoomId)

	for _, conn := range s.connRepo.GetConnsByRoomId(params.RoomId, nil) {
		memberId, err := s.connRepo.GetMemberId(conn)
		if err == nil {
			s.memberRepo.RemoveMember(ctx, params.RoomId, memberId)
		}
		s.connRepo.RemoveByConn(conn)
		s.sender.Close(conn)
		s.sender.Forget(conn)
	}

	return nil
}
