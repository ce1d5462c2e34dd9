package domain

// VideoState is the authoritative per-room playback record. CurrentTime is
// only meaningful relative to LastUpdateTime while IsPlaying is true: the
// actual position is CurrentTime plus the wall time elapsed since the last
// update. While paused it is exactly CurrentTime.
type VideoState struct {
	VideoId        string   `json:"video_id"`
	CurrentTime    float64  `json:"current_time"`
	IsPlaying      bool     `json:"is_playing"`
	LastUpdateTime int64    `json:"last_update_time"`
	LastSeekTime   *float64 `json:"last_seek_time,omitempty"`
}
