package domain

type SignalingEventType string

const (
	SignalingOpened             SignalingEventType = "opened"
	SignalingAuthenticated      SignalingEventType = "authenticated"
	SignalingChannelTreeChanged SignalingEventType = "channel_tree_changed"
	SignalingRejected           SignalingEventType = "rejected"
	SignalingClosed             SignalingEventType = "closed"
	SignalingUserTalkState      SignalingEventType = "user_talk_state"
	SignalingPermissionDenied   SignalingEventType = "permission_denied"
)

// SignalingEvent is emitted by a signaling client connection. Only the
// fields relevant to Type are populated.
type SignalingEvent struct {
	Type SignalingEventType

	SelfUserID UserSession
	Tree       ChannelTree
	Reason     string
	Err        error
	User       User
	Talking    bool
}

func NewAuthenticated(self UserSession) SignalingEvent {
	return SignalingEvent{Type: SignalingAuthenticated, SelfUserID: self}
}

func NewTreeChanged(tree ChannelTree) SignalingEvent {
	return SignalingEvent{Type: SignalingChannelTreeChanged, Tree: tree}
}

func NewRejected(reason string) SignalingEvent {
	return SignalingEvent{Type: SignalingRejected, Reason: reason}
}

func NewClosed(err error) SignalingEvent {
	return SignalingEvent{Type: SignalingClosed, Err: err}
}

func NewTalkState(user User, talking bool) SignalingEvent {
	return SignalingEvent{Type: SignalingUserTalkState, User: user, Talking: talking}
}

func NewPermissionDenied(reason string) SignalingEvent {
	return SignalingEvent{Type: SignalingPermissionDenied, Reason: reason}
}

type TelephonyEventType string

const (
	TelephonyAudioRouteGranted TelephonyEventType = "audio_route_granted"
	TelephonyUserAnswered      TelephonyEventType = "user_answered"
	TelephonyUserEnded         TelephonyEventType = "user_ended"
	TelephonyProviderReset     TelephonyEventType = "provider_reset"
)

// TelephonyEvent is emitted by the platform call UI. ProviderReset carries
// no handle.
type TelephonyEvent struct {
	Type   TelephonyEventType
	Handle CallHandle
}

type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)
