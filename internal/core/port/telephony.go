package port

import (
	"context"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

// TelephonyAdapter owns the platform call UI.
//
// A report that fails after the platform may already have seen it returns
// the handle it issued together with the error; the caller owns ending it.
type TelephonyAdapter interface {
	ReportIncoming(ctx context.Context, display string) (domain.CallHandle, error)
	ReportOutgoing(ctx context.Context, display string, channel domain.ChannelID) (domain.CallHandle, error)
	// EndCall must be idempotent and must not block on the platform.
	EndCall(handle domain.CallHandle, reason domain.EndReason) error
	SetEventHandler(fn func(ev domain.TelephonyEvent))
}

// AudioSubsystem is told when the session may start and must stop
// transmitting. Calls must not block.
type AudioSubsystem interface {
	Activate(session domain.SessionID) error
	Deactivate(session domain.SessionID) error
}
