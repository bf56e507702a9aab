package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

type callResult struct {
	id  domain.SessionID
	err error
}

// activeCall is the coordinator-private state wrapped around the current
// CallSession. Only the run goroutine touches it.
type activeCall struct {
	sess   *domain.CallSession
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	signalingUsed bool

	// reporting is true while a telephony report is in flight and the
	// session's handle is still unknown.
	reporting bool
	early     []domain.TelephonyEvent

	pending   *domain.PendingChannel
	pollTimer *clock.Timer

	ringReply  chan<- callResult
	placeReply chan<- callResult
}

func (a *activeCall) stopPolling() {
	if a.pollTimer != nil {
		a.pollTimer.Stop()
		a.pollTimer = nil
	}
}

func (a *activeCall) answer(err error) {
	res := callResult{id: a.sess.ID, err: err}
	if a.ringReply != nil {
		a.ringReply <- res
		a.ringReply = nil
	}
	if a.placeReply != nil {
		a.placeReply <- res
		a.placeReply = nil
	}
}
