package controller

import "context"

type contextKey int

const (
	roomIdCtxKey contextKey = iota
	memberIdCtxKey
)

func (c controller) withRoomId(ctx context.Context, roomId string) context.Context {
	return context.WithValue(ctx, roomIdCtxKey, roomId)
}

func (c controller) withMemberId(ctx context.Context, memberId string) context.Context {
	return context.WithValue(ctx, memberIdCtxKey, memberId)
}

func (c controller) getRoomIdFromCtx(ctx context.Context) string {
	roomId, ok := ctx.Value(roomIdCtxKey).(string)
	if !ok {
		return ""
	}

	return roomId
}

func (c controller) getMemberIdFromCtx(ctx context.Context) string {
	memberId, ok := ctx.Value(memberIdCtxKey).(string)
	if !ok {
		return ""
	}

	return memberId
}
