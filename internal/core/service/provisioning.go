package service

import (
	"fmt"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

// beginProvisioning asks the server for the session's ephemeral channel and
// starts watching for it. The channel only becomes visible through a later
// tree change, so resolution is retried with exponential backoff.
func (c *Coordinator) beginProvisioning(call *activeCall) {
	sess := call.sess
	sess.Phase = domain.PhaseChannelResolving
	call.pending = &domain.PendingChannel{
		RequestedName:     sess.EphemeralName,
		CreatedAt:         c.clock.Now(),
		AttemptsRemaining: c.cfg.ResolveAttempts,
	}
	c.notifyCallState()

	if err := c.signaling.CreateChannel(sess.EphemeralName, c.cfg.OpenChannelID); err != nil {
		c.endCall(call, domain.EndReasonFailed, fmt.Errorf("%w: create channel %q: %w", domain.ErrConnection, sess.EphemeralName, err))
		return
	}
	call.log.Info().
		Str("name", sess.EphemeralName).
		Stringer("parent", c.cfg.OpenChannelID).
		Msg("Requested ephemeral channel")

	if c.tryResolve(call, c.tree) {
		return
	}
	c.schedulePoll(call)
}

func (c *Coordinator) schedulePoll(call *activeCall) {
	attempt := c.cfg.ResolveAttempts - call.pending.AttemptsRemaining
	delay := c.cfg.ResolveBackoff << attempt
	id := call.sess.ID
	call.pollTimer = c.clock.AfterFunc(delay, func() {
		c.post(pollTick{id: id})
	})
}

func (c *Coordinator) onPollTick(e pollTick) {
	call := c.lookup(e.id)
	if call == nil || call.pending == nil || call.sess.Phase != domain.PhaseChannelResolving {
		c.log.Debug().Str("session_id", e.id.String()).Msg("Discarding late resolution poll")
		return
	}
	call.pollTimer = nil
	call.pending.AttemptsRemaining--

	if c.tryResolve(call, c.signaling.ChannelTree()) {
		return
	}
	if call.pending.AttemptsRemaining <= 0 {
		err := fmt.Errorf("%w: %q not visible after %d attempts", domain.ErrChannelResolutionTimeout, call.pending.RequestedName, c.cfg.ResolveAttempts)
		c.endCall(call, domain.EndReasonFailed, err)
		return
	}
	call.log.Debug().Int("remaining", call.pending.AttemptsRemaining).Msg("Ephemeral channel not visible yet")
	c.schedulePoll(call)
}

// tryResolve looks the pending channel up in tree. On a match it joins the
// channel and reports the outgoing call.
func (c *Coordinator) tryResolve(call *activeCall, tree domain.ChannelTree) bool {
	if call.pending == nil {
		return false
	}
	id, ok := ResolveChannel(tree, call.pending.RequestedName)
	if !ok {
		return false
	}
	waited := c.clock.Since(call.pending.CreatedAt)
	call.stopPolling()
	call.pending = nil
	call.sess.SetChannel(id)
	call.sess.Phase = domain.PhaseConnecting
	call.log.Info().Stringer("channel_id", id).Dur("waited", waited).Msg("Ephemeral channel resolved")

	if c.joinAndMarkReady(call) {
		c.reportOutgoing(call)
	}
	return true
}
