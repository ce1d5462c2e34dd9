package member

import "errors"

var ErrMemberNotFound = errors.New("member not found")

type Member struct {
	Username  string
	IsCreator bool
	IsOnline  bool
}

type SetMemberParams struct {
	MemberId  string
	RoomId    string
	Username  string
	IsCreator bool
	IsOnline  bool
}
