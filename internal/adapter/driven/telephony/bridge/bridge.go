package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

const (
	OpReportIncoming  = "report_incoming"
	OpReportOutgoing  = "report_outgoing"
	OpEndCall         = "end_call"
	OpActivateAudio   = "activate_audio"
	OpDeactivateAudio = "deactivate_audio"
	OpAck             = "ack"
)

var (
	ErrNoShell   = errors.New("no telephony shell connected")
	ErrShellGone = errors.New("telephony shell disconnected")
)

// Frame is the JSON message exchanged with the native shell.
type Frame struct {
	ID        string `json:"id,omitempty"`
	Op        string `json:"op"`
	Handle    string `json:"handle,omitempty"`
	Display   string `json:"display,omitempty"`
	ChannelID uint32 `json:"channel_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Session   string `json:"session,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Conn is the subset of *websocket.Conn the bridge needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type shell struct {
	conn Conn
	out  chan Frame
	done chan struct{}
	once sync.Once
}

func (s *shell) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Bridge forwards telephony and audio commands to the native shell that
// owns the platform call UI, and turns the shell's events into
// TelephonyEvents. It implements port.TelephonyAdapter and
// port.AudioSubsystem. At most one shell is attached; a new one replaces
// the old.
type Bridge struct {
	mu      sync.Mutex
	shell   *shell
	pending map[string]pendingAck
	handler func(domain.TelephonyEvent)
}

type pendingAck struct {
	shell *shell
	ch    chan Frame
}

func New() *Bridge {
	return &Bridge{pending: make(map[string]pendingAck)}
}

func (b *Bridge) SetEventHandler(fn func(domain.TelephonyEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shell != nil
}

// Serve attaches conn as the shell and blocks until it goes away. Losing
// the shell is reported as a provider reset: whatever calls it showed are
// gone.
func (b *Bridge) Serve(conn Conn) error {
	s := &shell{conn: conn, out: make(chan Frame, 32), done: make(chan struct{})}

	b.mu.Lock()
	prev := b.shell
	b.shell = s
	b.mu.Unlock()
	if prev != nil {
		log.Warn().Msg("Replacing attached telephony shell")
		prev.close()
	}
	log.Info().Msg("Telephony shell attached")

	go b.writeLoop(s)
	err := b.readLoop(s)
	s.close()

	b.mu.Lock()
	current := b.shell == s
	if current {
		b.shell = nil
	}
	for id, p := range b.pending {
		if p.shell == s {
			close(p.ch)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	if current {
		log.Warn().Err(err).Msg("Telephony shell detached")
		b.emit(domain.TelephonyEvent{Type: domain.TelephonyProviderReset})
	}
	return err
}

func (b *Bridge) writeLoop(s *shell) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			if err := s.conn.WriteJSON(f); err != nil {
				log.Error().Err(err).Str("op", f.Op).Msg("Error writing to telephony shell")
				s.close()
				return
			}
		}
	}
}

func (b *Bridge) readLoop(s *shell) error {
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Op {
		case OpAck:
			b.mu.Lock()
			p, ok := b.pending[f.ID]
			delete(b.pending, f.ID)
			b.mu.Unlock()
			if ok {
				p.ch <- f
			}
		case string(domain.TelephonyAudioRouteGranted),
			string(domain.TelephonyUserAnswered),
			string(domain.TelephonyUserEnded),
			string(domain.TelephonyProviderReset):
			b.emit(domain.TelephonyEvent{
				Type:   domain.TelephonyEventType(f.Op),
				Handle: domain.CallHandle(f.Handle),
			})
		default:
			log.Warn().Str("op", f.Op).Msg("Unknown frame from telephony shell")
		}
	}
}

func (b *Bridge) emit(ev domain.TelephonyEvent) {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// send queues f without waiting for an acknowledgement.
func (b *Bridge) send(f Frame) error {
	b.mu.Lock()
	s := b.shell
	b.mu.Unlock()
	if s == nil {
		return ErrNoShell
	}
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return ErrShellGone
	default:
		return errors.New("telephony shell outbox full")
	}
}

// request sends f and waits for the shell to acknowledge it. sent reports
// whether the frame reached the shell's outbox; past that point the shell
// may show the call even if the wait fails.
func (b *Bridge) request(ctx context.Context, f Frame) (sent bool, err error) {
	f.ID = uuid.NewString()
	ack := make(chan Frame, 1)

	b.mu.Lock()
	s := b.shell
	if s == nil {
		b.mu.Unlock()
		return false, ErrNoShell
	}
	b.pending[f.ID] = pendingAck{shell: s, ch: ack}
	b.mu.Unlock()

	forget := func() {
		b.mu.Lock()
		delete(b.pending, f.ID)
		b.mu.Unlock()
	}

	select {
	case s.out <- f:
	case <-s.done:
		forget()
		return false, ErrShellGone
	case <-ctx.Done():
		forget()
		return false, ctx.Err()
	}

	select {
	case reply, ok := <-ack:
		if !ok {
			return true, ErrShellGone
		}
		if reply.Error != "" {
			return false, errors.New(reply.Error)
		}
		return true, nil
	case <-ctx.Done():
		forget()
		return true, ctx.Err()
	}
}

// report issues a call handle and reports it. Once the frame went out the
// handle is returned even on error, so the caller can end a call the shell
// might still display.
func (b *Bridge) report(ctx context.Context, f Frame) (domain.CallHandle, error) {
	handle := domain.NewCallHandle()
	f.Handle = handle.String()
	sent, err := b.request(ctx, f)
	if !sent {
		return "", err
	}
	return handle, err
}

func (b *Bridge) ReportIncoming(ctx context.Context, display string) (domain.CallHandle, error) {
	return b.report(ctx, Frame{Op: OpReportIncoming, Display: display})
}

func (b *Bridge) ReportOutgoing(ctx context.Context, display string, channel domain.ChannelID) (domain.CallHandle, error) {
	return b.report(ctx, Frame{Op: OpReportOutgoing, Display: display, ChannelID: uint32(channel)})
}

// EndCall is fire-and-forget. With no shell attached there is no call UI
// left to end.
func (b *Bridge) EndCall(handle domain.CallHandle, reason domain.EndReason) error {
	err := b.send(Frame{Op: OpEndCall, Handle: handle.String(), Reason: string(reason)})
	if errors.Is(err, ErrNoShell) {
		return nil
	}
	return err
}

func (b *Bridge) Activate(session domain.SessionID) error {
	return b.send(Frame{Op: OpActivateAudio, Session: session.String()})
}

func (b *Bridge) Deactivate(session domain.SessionID) error {
	err := b.send(Frame{Op: OpDeactivateAudio, Session: session.String()})
	if errors.Is(err, ErrNoShell) {
		return nil
	}
	return err
}
