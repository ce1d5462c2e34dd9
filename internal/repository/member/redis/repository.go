package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/watchroom/server/internal/repository/member"
)

type memberModel struct {
	Username  string `redis:"username"`
	IsCreator bool   `redis:"is_creator"`
	IsOnline  bool   `redis:"is_online"`
}

// repo keeps room-scoped member records in redis. Records outlive individual
// connections, which is what preserves the controller role across reconnects.
type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}

func (r repo) getMemberKey(roomId, memberId string) string {
	return "room:" + roomId + ":member:" + memberId
}

func (r repo) getRoomMembersKey(roomId string) string {
	return "room:" + roomId + ":members"
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return nil
}

func (r repo) SetMember(ctx context.Context, params *member.SetMemberParams) error {
	pipe := r.rc.TxPipeline()

	memberKey := r.getMemberKey(params.RoomId, params.MemberId)
	pipe.HSet(ctx, memberKey, memberModel{
		Username:  params.Username,
		IsCreator: params.IsCreator,
		IsOnline:  params.IsOnline,
	})
	pipe.Expire(ctx, memberKey, r.expireDuration)

	membersKey := r.getRoomMembersKey(params.RoomId)
	pipe.SAdd(ctx, membersKey, params.MemberId)
	pipe.Expire(ctx, membersKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set member: %w", err)
	}

	return nil
}

func (r repo) GetMember(ctx context.Context, roomId, memberId string) (member.Member, error) {
	memberKey := r.getMemberKey(roomId, memberId)

	res, err := r.rc.Exists(ctx, memberKey).Result()
	if err != nil {
		return member.Member{}, fmt.Errorf("failed to check if member exists: %w", err)
	}
	if res == 0 {
		return member.Member{}, member.ErrMemberNotFound
	}

	var model memberModel
	if err := r.rc.HGetAll(ctx, memberKey).Scan(&model); err != nil {
		return member.Member{}, fmt.Errorf("failed to get member: %w", err)
	}

	r.rc.Expire(ctx, memberKey, r.expireDuration)

	return member.Member{
		Username:  model.Username,
		IsCreator: model.IsCreator,
		IsOnline:  model.IsOnline,
	}, nil
}

// GetRoomCreatorId returns the member id flagged as creator, or
// ErrMemberNotFound when the room has no recorded creator yet.
func (r repo) GetRoomCreatorId(ctx context.Context, roomId string) (string, error) {
	memberIds, err := r.rc.SMembers(ctx, r.getRoomMembersKey(roomId)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to get room members: %w", err)
	}

	for _, memberId := range memberIds {
		isCreator, err := r.rc.HGet(ctx, r.getMemberKey(roomId, memberId), "is_creator").Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return "", fmt.Errorf("failed to get member is_creator: %w", err)
		}

		if isCreator == "1" {
			return memberId, nil
		}
	}

	return "", member.ErrMemberNotFound
}

func (r repo) UpdateMemberIsOnline(ctx context.Context, roomId, memberId string, isOnline bool) error {
	memberKey := r.getMemberKey(roomId, memberId)

	res, err := r.rc.Exists(ctx, memberKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check if member exists: %w", err)
	}
	if res == 0 {
		return member.ErrMemberNotFound
	}

	if err := r.rc.HSet(ctx, memberKey, "is_online", isOnline).Err(); err != nil {
		return fmt.Errorf("failed to update member is_online: %w", err)
	}

	r.rc.Expire(ctx, memberKey, r.expireDuration)

	return nil
}

func (r repo) RemoveMember(ctx context.Context, roomId, memberId string) error {
	pipe := r.rc.TxPipeline()

	pipe.Del(ctx, r.getMemberKey(roomId, memberId))
	pipe.SRem(ctx, r.getRoomMembersKey(roomId), memberId)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	return nil
}
