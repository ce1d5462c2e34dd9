package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/watchroom/server/internal/domain"
	"github.com/watchroom/server/internal/repository/videostate"
)

type HandleControlActionParams struct {
	RoomId   string
	VideoId  string
	Action   domain.ActionType
	Time     float64
	SenderId string
}

// HandleControlAction applies a controller's play/pause/seek to the room state
// and schedules the broadcast. Actions from non-creators are dropped without
// an error reply: a follower sending control is a client-side state bug, not
// something the user can act on.
func (s *service) HandleControlAction(ctx context.Context, params *HandleControlActionParams) error {
	sender, err := s.memberRepo.GetMember(ctx, params.RoomId, params.SenderId)
	if err != nil {
		return fmt.Errorf("failed to get sender: %w", err)
	}

	if !sender.IsCreator {
		s.logger.DebugContext(ctx, "dropping control action from non-creator",
			"room_id", params.RoomId,
			"sender_id", params.SenderId,
			"action", params.Action,
		)
		return nil
	}

	action := domain.ControlAction{
		Action:  params.Action,
		VideoId: params.VideoId,
		Time:    params.Time,
		UserId:  params.SenderId,
	}

	s.videoStateRepo.ApplyAction(params.RoomId, action)
	s.debouncer.Schedule(params.RoomId, action)

	return nil
}

// flushBroadcast is called by the debouncer when an action is due. The server
// time is stamped here, at emission, so followers compensate for actual
// network delay rather than debounce latency. Delivery is fire-and-forget.
func (s *service) flushBroadcast(roomId string, action domain.ControlAction) {
	action.ServerTime = s.clock.Now().UnixMilli()

	actorConn, err := s.connRepo.GetConn(action.UserId)
	if err != nil {
		actorConn = nil
	}

	conns := s.connRepo.GetConnsByRoomId(roomId, actorConn)
	payload := SyncBroadcast{
		Action:     action.Action,
		Time:       action.Time,
		VideoId:    action.VideoId,
		ServerTime: action.ServerTime,
	}
	for _, conn := range conns {
		if err := s.sender.Send(conn, "PLAYER_SYNC", payload); err != nil {
			s.logger.Info("failed to write sync broadcast", "room_id", roomId, "error", err)
		}
	}
}

type RequestStateParams struct {
	RoomId   string
	VideoId  string
	SenderId string
}

type RequestStateResponse struct {
	// State is nil when no one has controlled the video yet.
	State *SyncState
}

// RequestState answers a follower resuming after its tab regained visibility.
// The reply converges through the same state shape a join reply uses.
func (s *service) RequestState(ctx context.Context, params *RequestStateParams) (RequestStateResponse, error) {
	state, err := s.snapshotSync(params.RoomId, params.VideoId)
	if err != nil {
		return RequestStateResponse{}, fmt.Errorf("failed to snapshot room state: %w", err)
	}

	return RequestStateResponse{State: state}, nil
}

// snapshotSync reads a time-adjusted snapshot and derives the explicit sync
// directive from it. "No state yet" is reported as a nil state, not an error.
func (s *service) snapshotSync(roomId, videoId string) (*SyncState, error) {
	snapshot, err := s.videoStateRepo.Snapshot(roomId, videoId)
	if err != nil {
		if errors.Is(err, videostate.ErrStateNotFound) {
			return nil, nil
		}
		return nil, err
	}

	syncAction := domain.ActionPause
	if snapshot.IsPlaying {
		syncAction = domain.ActionPlay
	}

	return &SyncState{
		VideoId:     snapshot.VideoId,
		CurrentTime: snapshot.CurrentTime,
		IsPlaying:   snapshot.IsPlaying,
		ServerTime:  s.clock.Now().UnixMilli(),
		SyncAction:  syncAction,
	}, nil
}
