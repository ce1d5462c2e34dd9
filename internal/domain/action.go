package domain

type ActionType string

const (
	ActionPlay  ActionType = "play"
	ActionPause ActionType = "pause"
	ActionSeek  ActionType = "seek"
)

// ControlAction exists only on the wire. ServerTime is stamped by the server
// at broadcast time and is used by followers for delay compensation.
type ControlAction struct {
	Action     ActionType `json:"action"`
	VideoId    string     `json:"video_id"`
	Time       float64    `json:"time"`
	ServerTime int64      `json:"server_time,omitempty"`
	UserId     string     `json:"user_id,omitempty"`
}
