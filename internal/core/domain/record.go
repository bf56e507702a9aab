package domain

import (
	"errors"
	"time"
)

// CallRecord is the history entry kept for every session that ended.
type CallRecord struct {
	SessionID     SessionID `json:"session_id"`
	Direction     Direction `json:"direction"`
	RemoteDisplay string    `json:"remote"`
	ChannelID     ChannelID `json:"channel_id"`
	HasChannel    bool      `json:"has_channel"`
	AudioStarted  bool      `json:"audio_started"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	EndReason     EndReason `json:"end_reason"`
	Error         string    `json:"error,omitempty"`
}

func NewCallRecord(s *CallSession, reason EndReason, cause error, endedAt time.Time) (*CallRecord, error) {
	if s == nil || s.ID.IsZero() {
		return nil, errors.New("call record requires a session")
	}
	rec := &CallRecord{
		SessionID:     s.ID,
		Direction:     s.Direction,
		RemoteDisplay: s.RemoteDisplay,
		ChannelID:     s.ChannelID,
		HasChannel:    s.HasChannel,
		AudioStarted:  s.Gate.Activated(),
		StartedAt:     s.StartedAt,
		EndedAt:       endedAt,
		EndReason:     reason,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return rec, nil
}

func (r CallRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
