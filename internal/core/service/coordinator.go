package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
)

const (
	DefaultResolveAttempts = 3
	DefaultResolveBackoff  = 500 * time.Millisecond
	DefaultReportTimeout   = 5 * time.Second
	DefaultChannelPrefix   = "c-"

	historySaveTimeout = 5 * time.Second
	inboxSize          = 64
)

type Config struct {
	Server      port.ServerAddress
	Credentials port.Credentials

	// OpenChannelID is the parent of ephemeral channels created for
	// outgoing calls that do not name a channel.
	OpenChannelID domain.ChannelID

	ResolveAttempts int
	ResolveBackoff  time.Duration
	ReportTimeout   time.Duration
	ChannelPrefix   string
}

func (c *Config) setDefaults() {
	if c.ResolveAttempts <= 0 {
		c.ResolveAttempts = DefaultResolveAttempts
	}
	if c.ResolveBackoff <= 0 {
		c.ResolveBackoff = DefaultResolveBackoff
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = DefaultReportTimeout
	}
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
}

type Option func(*Coordinator)

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = logger }
}

// WithChannelNamer replaces the generator of ephemeral channel names.
func WithChannelNamer(fn func() string) Option {
	return func(c *Coordinator) { c.newName = fn }
}

func WithHistory(repo port.CallRepository) Option {
	return func(c *Coordinator) { c.history = repo }
}

type observerEntry struct {
	id  int
	obs port.StateObserver
}

// Coordinator is the single owner of call state. Every input, be it a push,
// a user request, a signaling or telephony event or a timer, is queued on
// the inbox and applied in order by Run.
type Coordinator struct {
	signaling port.SignalingClient
	telephony port.TelephonyAdapter
	audio     port.AudioSubsystem
	history   port.CallRepository
	clock     clock.Clock
	cfg       Config
	log       zerolog.Logger
	newName   func() string

	inbox chan any
	quit  chan struct{}
	done  chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	reports    sync.WaitGroup
	saves      sync.WaitGroup

	// owned by the run goroutine
	current      *activeCall
	observers    []observerEntry
	nextObserver int
	muted        bool
	deafened     bool
	conn         domain.ConnectionState
	tree         domain.ChannelTree
	lastEnd      *domain.CallStatus
}

func NewCoordinator(signaling port.SignalingClient, telephony port.TelephonyAdapter, audio port.AudioSubsystem, cfg Config, opts ...Option) *Coordinator {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		signaling:  signaling,
		telephony:  telephony,
		audio:      audio,
		clock:      clock.New(),
		cfg:        cfg,
		log:        log.With().Str("component", "coordinator").Logger(),
		inbox:      make(chan any, inboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		conn:       domain.ConnectionDisconnected,
	}
	c.newName = func() string {
		return c.cfg.ChannelPrefix + uuid.NewString()[:8]
	}
	for _, opt := range opts {
		opt(c)
	}

	telephony.SetEventHandler(func(ev domain.TelephonyEvent) {
		c.post(telephonyEvent{ev: ev})
	})
	return c
}

func (c *Coordinator) Run() {
	defer close(c.done)
	c.log.Info().Msg("Call coordinator started")
	for {
		select {
		case <-c.quit:
			if c.current != nil {
				c.endCall(c.current, domain.EndReasonShutdown, domain.ErrCoordinatorStopped)
			}
			c.baseCancel()
			c.drainReports()
			c.saves.Wait()
			c.log.Info().Msg("Call coordinator stopped")
			return
		case ev := <-c.inbox:
			c.dispatch(ev)
		}
	}
}

// Stop asks Run to end the current call and return. Wait on Done for it.
func (c *Coordinator) Stop() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// drainReports waits for in-flight telephony reports after shutdown and
// ends whatever handle they produced. Other queued events are dropped.
func (c *Coordinator) drainReports() {
	idle := make(chan struct{})
	go func() {
		c.reports.Wait()
		close(idle)
	}()
	endLate := func(ev any) {
		e, ok := ev.(reportDone)
		if !ok || e.handle == "" {
			return
		}
		if err := c.telephony.EndCall(e.handle, domain.EndReasonShutdown); err != nil {
			c.log.Warn().Err(err).Str("handle", e.handle.String()).Msg("Failed to end call handle after shutdown")
		}
	}
	for {
		select {
		case ev := <-c.inbox:
			endLate(ev)
		case <-idle:
			for {
				select {
				case ev := <-c.inbox:
					endLate(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) post(ev any) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func ask[T any](ctx context.Context, c *Coordinator, build func(reply chan<- T) any) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if !c.post(build(reply)) {
		return zero, domain.ErrCoordinatorStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, domain.ErrCoordinatorStopped
	}
}

// HandleIncoming starts a ringing session for a pushed call, preempting any
// call already in progress. It returns once the telephony layer accepted or
// refused to show the call.
func (c *Coordinator) HandleIncoming(ctx context.Context, desc domain.IncomingDescriptor) (domain.SessionID, error) {
	res, err := ask(ctx, c, func(reply chan<- callResult) any {
		return incomingRequest{desc: desc, reply: reply}
	})
	if err != nil {
		return domain.SessionID{}, err
	}
	return res.id, res.err
}

// RequestOutgoingCall places a call to peer in channelID. A zero channelID
// provisions a temporary channel under the configured open channel. It
// returns once the call has been reported to the telephony layer or the
// session failed.
func (c *Coordinator) RequestOutgoingCall(ctx context.Context, peer string, channelID domain.ChannelID) (domain.SessionID, error) {
	res, err := ask(ctx, c, func(reply chan<- callResult) any {
		return outgoingRequest{peer: peer, channel: channelID, reply: reply}
	})
	if err != nil {
		return domain.SessionID{}, err
	}
	return res.id, res.err
}

func (c *Coordinator) ToggleMute(ctx context.Context) (bool, error) {
	return ask(ctx, c, func(reply chan<- bool) any {
		return toggleRequest{kind: toggleMute, reply: reply}
	})
}

func (c *Coordinator) ToggleDeafen(ctx context.Context) (bool, error) {
	return ask(ctx, c, func(reply chan<- bool) any {
		return toggleRequest{kind: toggleDeafen, reply: reply}
	})
}

func (c *Coordinator) Status(ctx context.Context) (domain.CallStatus, error) {
	return ask(ctx, c, func(reply chan<- domain.CallStatus) any {
		return statusRequest{reply: reply}
	})
}

// RegisterStateObserver adds obs to the notification fan-out and returns a
// function removing it again.
func (c *Coordinator) RegisterStateObserver(obs port.StateObserver) func() {
	entry := observerEntry{obs: obs}
	idCh := make(chan int, 1)
	c.post(observerChange{observer: entry, reply: idCh})
	var once sync.Once
	return func() {
		once.Do(func() {
			select {
			case id := <-idCh:
				c.post(observerChange{id: id, remove: true})
			case <-c.done:
			}
		})
	}
}

// History lists past calls, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.List(ctx, limit)
}

func (c *Coordinator) dispatch(ev any) {
	switch e := ev.(type) {
	case incomingRequest:
		c.onIncoming(e)
	case outgoingRequest:
		c.onOutgoing(e)
	case reportDone:
		c.onReportDone(e)
	case connectDone:
		c.onConnectDone(e)
	case signalingEvent:
		c.onSignaling(e)
	case telephonyEvent:
		c.onTelephony(e.ev)
	case pollTick:
		c.onPollTick(e)
	case toggleRequest:
		c.onToggle(e)
	case statusRequest:
		e.reply <- c.status()
	case observerChange:
		c.onObserverChange(e)
	default:
		c.log.Error().Type("event", ev).Msg("Unknown coordinator event")
	}
}

func (c *Coordinator) onObserverChange(e observerChange) {
	if e.remove {
		for i, entry := range c.observers {
			if entry.id == e.id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				break
			}
		}
		return
	}
	c.nextObserver++
	e.observer.id = c.nextObserver
	c.observers = append(c.observers, e.observer)
	e.reply <- e.observer.id
}

func (c *Coordinator) onToggle(e toggleRequest) {
	var (
		value bool
		err   error
		what  string
	)
	switch e.kind {
	case toggleMute:
		c.muted = !c.muted
		value, what = c.muted, "mute"
		err = c.signaling.SetMuted(value)
	case toggleDeafen:
		c.deafened = !c.deafened
		value, what = c.deafened, "deafen"
		err = c.signaling.SetDeafened(value)
	}
	if err != nil {
		c.log.Debug().Err(err).Str("toggle", what).Msg("Toggle not forwarded to signaling")
	}
	c.notifyCallState()
	e.reply <- value
}

func (c *Coordinator) status() domain.CallStatus {
	st := domain.CallStatus{
		Phase:      domain.PhaseIdle,
		Muted:      c.muted,
		Deafened:   c.deafened,
		Connection: c.conn,
	}
	if call := c.current; call != nil {
		fillStatus(&st, call.sess)
	} else if c.lastEnd != nil {
		st.EndReason = c.lastEnd.EndReason
		st.Error = c.lastEnd.Error
	}
	return st
}

func fillStatus(st *domain.CallStatus, s *domain.CallSession) {
	st.SessionID = s.ID.String()
	st.Direction = s.Direction
	st.Remote = s.RemoteDisplay
	st.Phase = s.Phase
	st.ChannelID = s.ChannelID
	st.HasChannel = s.HasChannel
	st.SignalingReady = s.Gate.SignalingReady
	st.UIAudioReady = s.Gate.UIAudioReady
	st.AudioActive = s.Gate.Activated()
}

func (c *Coordinator) notifyCallState() {
	c.publishStatus(c.status())
}

func (c *Coordinator) publishStatus(st domain.CallStatus) {
	for _, e := range c.observers {
		e.obs.OnCallStateChanged(st)
	}
}

func (c *Coordinator) setConnection(state domain.ConnectionState, force bool) {
	if c.conn == state && !force {
		return
	}
	c.conn = state
	for _, e := range c.observers {
		e.obs.OnConnectionStateChange(state)
	}
}

func (c *Coordinator) notifyModel(tree domain.ChannelTree) {
	for _, e := range c.observers {
		e.obs.OnModelChanged(tree)
	}
}

func (c *Coordinator) notifyTalk(user domain.User, talking bool) {
	for _, e := range c.observers {
		e.obs.OnUserTalkStateChanged(user, talking)
	}
}

func (c *Coordinator) notifyError(err error) {
	for _, e := range c.observers {
		e.obs.OnError(err)
	}
}

func (c *Coordinator) saveRecord(rec domain.CallRecord) {
	if c.history == nil {
		return
	}
	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
		defer cancel()
		if err := c.history.Save(ctx, rec); err != nil {
			c.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("Failed to save call record")
		}
	}()
}
