package domain

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Phase is the lifecycle position of a CallSession.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseAnswering
	PhaseConnecting
	PhaseChannelResolving
	PhaseActive
	PhaseEnding
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRinging:
		return "ringing"
	case PhaseAnswering:
		return "answering"
	case PhaseConnecting:
		return "connecting"
	case PhaseChannelResolving:
		return "channel_resolving"
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no further transitions may be applied.
func (p Phase) Terminal() bool {
	return p == PhaseEnding || p == PhaseEnded
}

// EndReason is passed to the telephony layer when a call handle is ended.
type EndReason string

const (
	EndReasonRemoteEnded       EndReason = "remote_ended"
	EndReasonUserEnded         EndReason = "user_ended"
	EndReasonAnsweredElsewhere EndReason = "answered_elsewhere"
	EndReasonFailed            EndReason = "failed"
	EndReasonProviderReset     EndReason = "provider_reset"
	EndReasonShutdown          EndReason = "shutdown"
)

// IncomingDescriptor is the normalized push payload announcing a call.
type IncomingDescriptor struct {
	Caller    string
	ChannelID ChannelID
}

// ReadinessGate holds the two conditions that must both hold before audio
// may start. Activation happens at most once per gate.
type ReadinessGate struct {
	SignalingReady bool
	UIAudioReady   bool
	activated      bool
}

func (g *ReadinessGate) Ready() bool {
	return g.SignalingReady && g.UIAudioReady
}

// TryActivate flips the gate into the activated state and returns true
// exactly once, the first time both conditions hold.
func (g *ReadinessGate) TryActivate() bool {
	if !g.Ready() || g.activated {
		return false
	}
	g.activated = true
	return true
}

func (g *ReadinessGate) Activated() bool {
	return g.activated
}

func (g *ReadinessGate) Clear() {
	*g = ReadinessGate{}
}

// PendingChannel tracks an ephemeral channel that was requested but not yet
// observed in the channel tree.
type PendingChannel struct {
	RequestedName     string
	CreatedAt         time.Time
	AttemptsRemaining int
}

type CallSession struct {
	ID            SessionID
	Direction     Direction
	RemoteDisplay string
	ChannelID     ChannelID
	HasChannel    bool
	Phase         Phase
	Handle        CallHandle
	Gate          ReadinessGate
	StartedAt     time.Time

	// EphemeralName is set when an outgoing call provisions its own channel.
	EphemeralName string
}

func NewIncomingSession(desc IncomingDescriptor, now time.Time) *CallSession {
	return &CallSession{
		ID:            NewSessionID(),
		Direction:     DirectionIncoming,
		RemoteDisplay: desc.Caller,
		ChannelID:     desc.ChannelID,
		HasChannel:    true,
		Phase:         PhaseRinging,
		StartedAt:     now,
	}
}

func NewOutgoingSession(peer string, channelID ChannelID, ephemeralName string, now time.Time) *CallSession {
	s := &CallSession{
		ID:            NewSessionID(),
		Direction:     DirectionOutgoing,
		RemoteDisplay: peer,
		Phase:         PhaseConnecting,
		StartedAt:     now,
		EphemeralName: ephemeralName,
	}
	if ephemeralName == "" {
		s.ChannelID = channelID
		s.HasChannel = true
	}
	return s
}

func (s *CallSession) SetChannel(id ChannelID) {
	s.ChannelID = id
	s.HasChannel = true
}
