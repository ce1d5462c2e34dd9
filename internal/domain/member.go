package domain

// Member is a room participant. Exactly one member per room has
// IsCreator set: that connection drives playback, everyone else follows.
type Member struct {
	Id        string `json:"id"`
	Username  string `json:"username"`
	RoomId    string `json:"room_id"`
	IsCreator bool   `json:"is_creator"`
	IsOnline  bool   `json:"is_online"`
}
