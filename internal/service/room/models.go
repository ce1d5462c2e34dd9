package room

import "github.com/watchroom/server/internal/domain"

// SyncState is the client-facing view of a snapshot: the time-adjusted state
// plus an explicit play/pause directive, so followers never have to guess
// whether to autoplay from raw numbers.
type SyncState struct {
	VideoId     string            `json:"video_id"`
	CurrentTime float64           `json:"current_time"`
	IsPlaying   bool              `json:"is_playing"`
	ServerTime  int64             `json:"server_time"`
	SyncAction  domain.ActionType `json:"sync_action"`
}

// SyncBroadcast is the payload of a PLAYER_SYNC fan-out.
type SyncBroadcast struct {
	Action     domain.ActionType `json:"action"`
	Time       float64           `json:"time"`
	VideoId    string            `json:"video_id"`
	ServerTime int64             `json:"server_time"`
}
