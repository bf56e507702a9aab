package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

func (c *Coordinator) begin(sess *domain.CallSession) *activeCall {
	ctx, cancel := context.WithCancel(c.baseCtx)
	call := &activeCall{
		sess:   sess,
		ctx:    ctx,
		cancel: cancel,
		log: c.log.With().
			Str("session_id", sess.ID.String()).
			Str("direction", string(sess.Direction)).
			Logger(),
	}
	c.current = call
	c.lastEnd = nil
	return call
}

// lookup returns the current call if id names it and it is still live.
func (c *Coordinator) lookup(id domain.SessionID) *activeCall {
	call := c.current
	if call == nil || call.sess.ID != id || call.sess.Phase.Terminal() {
		return nil
	}
	return call
}

func (c *Coordinator) onIncoming(e incomingRequest) {
	if cur := c.current; cur != nil {
		cur.log.Info().Msg("Preempting call for newer incoming call")
		c.endCall(cur, domain.EndReasonAnsweredElsewhere, domain.ErrPreempted)
	}

	sess := domain.NewIncomingSession(e.desc, c.clock.Now())
	call := c.begin(sess)
	call.ringReply = e.reply
	call.log.Info().
		Str("caller", sess.RemoteDisplay).
		Stringer("channel_id", sess.ChannelID).
		Msg("Incoming call ringing")
	c.notifyCallState()
	c.reportIncoming(call)
}

func (c *Coordinator) onOutgoing(e outgoingRequest) {
	if cur := c.current; cur != nil {
		e.reply <- callResult{err: fmt.Errorf("%w: session %s is %s", domain.ErrCallInProgress, cur.sess.ID, cur.sess.Phase)}
		return
	}

	var name string
	if e.channel == 0 {
		name = c.newName()
	}
	sess := domain.NewOutgoingSession(e.peer, e.channel, name, c.clock.Now())
	call := c.begin(sess)
	call.placeReply = e.reply
	ev := call.log.Info().Str("peer", sess.RemoteDisplay)
	if name != "" {
		ev = ev.Str("ephemeral_channel", name)
	} else {
		ev = ev.Stringer("channel_id", sess.ChannelID)
	}
	ev.Msg("Placing outgoing call")
	c.notifyCallState()
	c.connect(call)
}

func (c *Coordinator) reportIncoming(call *activeCall) {
	call.reporting = true
	id, display := call.sess.ID, call.sess.RemoteDisplay
	c.runReport(id, func(ctx context.Context) (domain.CallHandle, error) {
		return c.telephony.ReportIncoming(ctx, display)
	})
}

func (c *Coordinator) reportOutgoing(call *activeCall) {
	call.reporting = true
	id, display, channel := call.sess.ID, call.sess.RemoteDisplay, call.sess.ChannelID
	c.runReport(id, func(ctx context.Context) (domain.CallHandle, error) {
		return c.telephony.ReportOutgoing(ctx, display, channel)
	})
}

// runReport runs a telephony report outside the run goroutine. The report
// outlives its session: ending the session must not abandon a handle the
// platform may already display, so only shutdown and ReportTimeout bound it.
// Run waits for in-flight reports before it returns.
func (c *Coordinator) runReport(id domain.SessionID, report func(ctx context.Context) (domain.CallHandle, error)) {
	c.reports.Add(1)
	go func() {
		defer c.reports.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.ReportTimeout)
		defer cancel()
		handle, err := report(ctx)
		c.post(reportDone{id: id, handle: handle, err: err})
	}()
}

func (c *Coordinator) onReportDone(e reportDone) {
	call := c.lookup(e.id)
	if call == nil {
		if e.handle != "" {
			c.log.Debug().Str("handle", e.handle.String()).Msg("Ending handle reported for a finished session")
			if err := c.telephony.EndCall(e.handle, domain.EndReasonFailed); err != nil {
				c.log.Warn().Err(err).Str("handle", e.handle.String()).Msg("Failed to end late call handle")
			}
		}
		return
	}
	call.reporting = false

	if e.err != nil {
		// a handle with an error may still be on screen; endCall ends it
		call.sess.Handle = e.handle
		c.endCall(call, domain.EndReasonFailed, fmt.Errorf("%w: %w", domain.ErrTelephonyRefusal, e.err))
		return
	}
	call.sess.Handle = e.handle
	call.log.Debug().Str("handle", e.handle.String()).Msg("Call reported to telephony")
	call.answer(nil)
	c.replayEarly(call)
}

func (c *Coordinator) replayEarly(call *activeCall) {
	early := call.early
	call.early = nil
	for _, ev := range early {
		if call.sess.Phase.Terminal() {
			return
		}
		if ev.Handle != call.sess.Handle {
			call.log.Debug().Str("handle", ev.Handle.String()).Msg("Dropping telephony event for foreign handle")
			continue
		}
		c.applyTelephony(call, ev)
	}
}

func (c *Coordinator) onTelephony(ev domain.TelephonyEvent) {
	if ev.Type == domain.TelephonyProviderReset {
		c.log.Warn().Msg("Telephony provider reset")
		if c.current != nil {
			c.endCall(c.current, domain.EndReasonProviderReset, domain.ErrProviderReset)
		}
		return
	}

	call := c.current
	if call == nil || call.sess.Phase.Terminal() {
		c.log.Debug().Str("handle", ev.Handle.String()).Msg("Ignoring telephony event without a live call")
		return
	}
	if call.sess.Handle != ev.Handle {
		if call.reporting && call.sess.Handle == "" {
			call.early = append(call.early, ev)
			return
		}
		call.log.Debug().Str("handle", ev.Handle.String()).Msg("Ignoring stale telephony event")
		return
	}
	c.applyTelephony(call, ev)
}

func (c *Coordinator) applyTelephony(call *activeCall, ev domain.TelephonyEvent) {
	switch ev.Type {
	case domain.TelephonyAudioRouteGranted:
		call.sess.Gate.UIAudioReady = true
		call.log.Debug().Msg("Audio route granted")
		if !c.activateAudioIfReady(call) {
			c.notifyCallState()
		}
	case domain.TelephonyUserAnswered:
		if call.sess.Phase != domain.PhaseRinging {
			call.log.Debug().Stringer("phase", call.sess.Phase).Msg("Ignoring answer outside ringing")
			return
		}
		call.sess.Phase = domain.PhaseAnswering
		call.log.Info().Msg("Call answered")
		c.notifyCallState()
		c.connect(call)
	case domain.TelephonyUserEnded:
		call.log.Info().Msg("Call ended by user")
		c.endCall(call, domain.EndReasonUserEnded, nil)
	}
}

func (c *Coordinator) connect(call *activeCall) {
	call.signalingUsed = true
	id := call.sess.ID
	ctx := call.ctx
	listener := func(ev domain.SignalingEvent) {
		c.post(signalingEvent{id: id, ev: ev})
	}
	go func() {
		err := c.signaling.Connect(ctx, c.cfg.Server, c.cfg.Credentials, listener)
		c.post(connectDone{id: id, err: err})
	}()
}

func (c *Coordinator) onConnectDone(e connectDone) {
	call := c.lookup(e.id)
	if call == nil || e.err == nil {
		return
	}
	c.endCall(call, domain.EndReasonFailed, connectionError(e.err))
}

func connectionError(err error) error {
	if errors.Is(err, domain.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

func (c *Coordinator) onSignaling(e signalingEvent) {
	call := c.lookup(e.id)
	if call == nil {
		c.log.Debug().Str("session_id", e.id.String()).Str("type", string(e.ev.Type)).Msg("Ignoring signaling event of a finished session")
		return
	}

	ev := e.ev
	switch ev.Type {
	case domain.SignalingOpened:
		call.log.Debug().Msg("Signaling transport open")
	case domain.SignalingAuthenticated:
		c.onAuthenticated(call, ev.SelfUserID)
	case domain.SignalingChannelTreeChanged:
		c.tree = ev.Tree
		c.notifyModel(ev.Tree)
		if call.sess.Phase == domain.PhaseChannelResolving && call.pending != nil {
			c.tryResolve(call, ev.Tree)
		}
	case domain.SignalingRejected:
		c.endCall(call, domain.EndReasonFailed, fmt.Errorf("%w: rejected: %s", domain.ErrConnection, ev.Reason))
	case domain.SignalingClosed:
		if ev.Err != nil {
			c.endCall(call, domain.EndReasonFailed, connectionError(ev.Err))
			return
		}
		call.log.Info().Str("reason", ev.Reason).Msg("Signaling connection closed by server")
		c.endCall(call, domain.EndReasonRemoteEnded, nil)
	case domain.SignalingUserTalkState:
		c.notifyTalk(ev.User, ev.Talking)
	case domain.SignalingPermissionDenied:
		err := fmt.Errorf("%w: %s", domain.ErrPermissionDenied, ev.Reason)
		call.log.Warn().Err(err).Msg("Signaling action denied")
		c.notifyError(err)
	}
}

func (c *Coordinator) onAuthenticated(call *activeCall, self domain.UserSession) {
	call.log.Info().Uint32("self", uint32(self)).Msg("Signaling authenticated")
	c.setConnection(domain.ConnectionConnected, false)

	switch call.sess.Phase {
	case domain.PhaseAnswering:
		c.joinAndMarkReady(call)
	case domain.PhaseConnecting:
		if call.sess.EphemeralName != "" && !call.sess.HasChannel {
			c.beginProvisioning(call)
			return
		}
		if c.joinAndMarkReady(call) {
			c.reportOutgoing(call)
		}
	default:
		call.log.Debug().Stringer("phase", call.sess.Phase).Msg("Ignoring duplicate authentication")
	}
}

// joinAndMarkReady moves into the session's channel and opens the signaling
// half of the readiness gate. It reports false when the session ended.
func (c *Coordinator) joinAndMarkReady(call *activeCall) bool {
	id := call.sess.ChannelID
	if err := c.signaling.JoinChannel(id); err != nil {
		c.endCall(call, domain.EndReasonFailed, fmt.Errorf("%w: join channel %s: %w", domain.ErrConnection, id, err))
		return false
	}
	call.log.Info().Stringer("channel_id", id).Msg("Joined channel")
	call.sess.Gate.SignalingReady = true
	if !c.activateAudioIfReady(call) {
		c.notifyCallState()
	}
	return true
}

// activateAudioIfReady starts audio the first time both gate conditions
// hold and reports whether it did.
func (c *Coordinator) activateAudioIfReady(call *activeCall) bool {
	if call.sess.Phase.Terminal() || !call.sess.Gate.TryActivate() {
		return false
	}
	call.sess.Phase = domain.PhaseActive

	c.muted, c.deafened = false, false
	if err := multierr.Combine(c.signaling.SetMuted(false), c.signaling.SetDeafened(false)); err != nil {
		call.log.Warn().Err(err).Msg("Failed to reset self mute state")
	}
	if err := c.audio.Activate(call.sess.ID); err != nil {
		call.log.Error().Err(err).Msg("Audio activation failed")
		c.notifyError(&domain.CallError{SessionID: call.sess.ID, Reason: domain.EndReasonFailed, Err: err})
	}
	call.log.Info().Msg("Audio active")
	c.notifyCallState()
	return true
}

// endCall tears the session down. It is a no-op once the session is
// terminal, so every path may call it.
func (c *Coordinator) endCall(call *activeCall, reason domain.EndReason, cause error) {
	sess := call.sess
	if sess.Phase.Terminal() {
		return
	}
	sess.Phase = domain.PhaseEnding
	call.cancel()
	call.stopPolling()
	call.pending = nil
	call.early = nil

	var errs error
	if call.signalingUsed {
		errs = multierr.Append(errs, c.signaling.Disconnect())
	}
	if sess.Handle != "" && reason != domain.EndReasonProviderReset {
		errs = multierr.Append(errs, c.telephony.EndCall(sess.Handle, reason))
	}
	if sess.Gate.Activated() {
		errs = multierr.Append(errs, c.audio.Deactivate(sess.ID))
	}
	if errs != nil {
		call.log.Warn().Err(errs).Msg("Errors while tearing down call")
	}

	now := c.clock.Now()
	rec, err := domain.NewCallRecord(sess, reason, cause, now)
	if err != nil {
		call.log.Error().Err(err).Msg("Failed to build call record")
	}
	sess.Gate.Clear()
	sess.Phase = domain.PhaseEnded

	var replyErr error
	if cause != nil {
		replyErr = &domain.CallError{SessionID: sess.ID, Reason: reason, Err: cause}
	} else {
		replyErr = &domain.CallError{SessionID: sess.ID, Reason: reason, Err: domain.ErrSessionEnded}
	}
	call.answer(replyErr)

	ended := domain.CallStatus{
		Muted:      c.muted,
		Deafened:   c.deafened,
		Connection: domain.ConnectionDisconnected,
		EndReason:  reason,
	}
	fillStatus(&ended, sess)
	if cause != nil {
		ended.Error = cause.Error()
	}
	c.current = nil
	c.lastEnd = &ended

	evt := call.log.Info()
	if domain.IsFatal(cause) {
		evt = call.log.Warn()
	}
	evt = evt.Str("reason", string(reason))
	if rec != nil {
		evt = evt.Dur("duration", rec.Duration())
	}
	if cause != nil {
		evt = evt.AnErr("cause", cause)
	}
	evt.Msg("Call ended")

	c.setConnection(domain.ConnectionDisconnected, true)
	c.publishStatus(ended)
	if rec != nil {
		c.saveRecord(*rec)
	}
}
