package domain

// CallStatus is the externally visible snapshot of the coordinator.
type CallStatus struct {
	SessionID      string          `json:"session_id,omitempty"`
	Direction      Direction       `json:"direction,omitempty"`
	Remote         string          `json:"remote,omitempty"`
	Phase          Phase           `json:"phase"`
	ChannelID      ChannelID       `json:"channel_id"`
	HasChannel     bool            `json:"has_channel"`
	SignalingReady bool            `json:"signaling_ready"`
	UIAudioReady   bool            `json:"ui_audio_ready"`
	AudioActive    bool            `json:"audio_active"`
	Muted          bool            `json:"muted"`
	Deafened       bool            `json:"deafened"`
	Connection     ConnectionState `json:"connection"`
	EndReason      EndReason       `json:"end_reason,omitempty"`
	Error          string          `json:"error,omitempty"`
}
