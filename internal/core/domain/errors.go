package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection covers network, TLS and authentication failures of the
	// signaling connection. Session-fatal, never retried.
	ErrConnection = errors.New("signaling connection failed")
	// ErrTelephonyRefusal means the platform refused to show the call UI.
	ErrTelephonyRefusal = errors.New("telephony refused call")
	// ErrChannelResolutionTimeout means a requested ephemeral channel never
	// appeared in the channel tree within the attempt budget.
	ErrChannelResolutionTimeout = errors.New("channel resolution timed out")
	// ErrProviderReset means the platform invalidated all call state.
	ErrProviderReset = errors.New("telephony provider reset")
	// ErrPermissionDenied is a non-fatal authorization failure for an
	// in-call action.
	ErrPermissionDenied = errors.New("permission denied")

	ErrSessionEnded       = errors.New("call session ended")
	ErrPreempted          = errors.New("call preempted by newer incoming call")
	ErrCallInProgress     = errors.New("another call is in progress")
	ErrCoordinatorStopped = errors.New("call coordinator stopped")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrNotConnected       = errors.New("signaling client not connected")
)

// CallError ties a session-fatal cause to the session it ended.
type CallError struct {
	SessionID SessionID
	Reason    EndReason
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s ended (%s): %v", e.SessionID, e.Reason, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the session it occurred in.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPermissionDenied):
		return false
	default:
		return true
	}
}
