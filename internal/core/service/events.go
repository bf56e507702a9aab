package service

import "github.com/Wyydra/mumblecall/internal/core/domain"

// Everything that mutates coordinator state arrives as one of these on the
// inbox and is applied by the run goroutine.

type incomingRequest struct {
	desc  domain.IncomingDescriptor
	reply chan<- callResult
}

type outgoingRequest struct {
	peer    string
	channel domain.ChannelID
	reply   chan<- callResult
}

type reportDone struct {
	id     domain.SessionID
	handle domain.CallHandle
	err    error
}

type connectDone struct {
	id  domain.SessionID
	err error
}

type signalingEvent struct {
	id domain.SessionID
	ev domain.SignalingEvent
}

type telephonyEvent struct {
	ev domain.TelephonyEvent
}

type pollTick struct {
	id domain.SessionID
}

type toggleKind int

const (
	toggleMute toggleKind = iota
	toggleDeafen
)

type toggleRequest struct {
	kind  toggleKind
	reply chan<- bool
}

type statusRequest struct {
	reply chan<- domain.CallStatus
}

type observerChange struct {
	id       int
	observer observerEntry
	remove   bool
	reply    chan<- int
}
