package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
)

type createdChannel struct {
	name   string
	parent domain.ChannelID
}

type fakeSignaling struct {
	mu          sync.Mutex
	listener    port.SignalingListener
	connectErr  error
	joinErr     error
	connects    int
	disconnects int
	joined      []domain.ChannelID
	created     []createdChannel
	muted       []bool
	deafened    []bool
	trees       []domain.ChannelTree
	treeCalls   int
}

func (f *fakeSignaling) Connect(_ context.Context, _ port.ServerAddress, _ port.Credentials, listener port.SignalingListener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.listener = listener
	return f.connectErr
}

func (f *fakeSignaling) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSignaling) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
	return nil
}

func (f *fakeSignaling) SetDeafened(deafened bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deafened = append(f.deafened, deafened)
	return nil
}

func (f *fakeSignaling) JoinChannel(id domain.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeSignaling) CreateChannel(name string, parent domain.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdChannel{name: name, parent: parent})
	return nil
}

// ChannelTree hands out the queued trees in order and repeats the last one.
func (f *fakeSignaling) ChannelTree() domain.ChannelTree {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeCalls++
	if len(f.trees) == 0 {
		return domain.ChannelTree{}
	}
	i := f.treeCalls - 1
	if i >= len(f.trees) {
		i = len(f.trees) - 1
	}
	return f.trees[i]
}

func (f *fakeSignaling) emit(ev domain.SignalingEvent) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l(ev)
}

func (f *fakeSignaling) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSignaling) joinedChannels() []domain.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChannelID(nil), f.joined...)
}

func (f *fakeSignaling) createdChannels() []createdChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdChannel(nil), f.created...)
}

func (f *fakeSignaling) treeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.treeCalls
}

func (f *fakeSignaling) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type outgoingReport struct {
	display string
	channel domain.ChannelID
}

type endedCall struct {
	handle domain.CallHandle
	reason domain.EndReason
}

type fakeTelephony struct {
	mu       sync.Mutex
	handler  func(domain.TelephonyEvent)
	refuse   error
	hold     chan struct{}
	reports  int
	incoming []string
	outgoing []outgoingReport
	ended    []endedCall
}

func (f *fakeTelephony) next() (domain.CallHandle, chan struct{}, error) {
	f.reports++
	return domain.CallHandle(fmt.Sprintf("h-%d", f.reports)), f.hold, f.refuse
}

// settle behaves like a shell that already saw the report: a held report
// cut short by ctx still returns its handle.
func settle(ctx context.Context, handle domain.CallHandle, hold chan struct{}, err error) (domain.CallHandle, error) {
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return handle, ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (f *fakeTelephony) ReportIncoming(ctx context.Context, display string) (domain.CallHandle, error) {
	f.mu.Lock()
	f.incoming = append(f.incoming, display)
	handle, hold, err := f.next()
	f.mu.Unlock()
	return settle(ctx, handle, hold, err)
}

func (f *fakeTelephony) ReportOutgoing(ctx context.Context, display string, channel domain.ChannelID) (domain.CallHandle, error) {
	f.mu.Lock()
	f.outgoing = append(f.outgoing, outgoingReport{display: display, channel: channel})
	handle, hold, err := f.next()
	f.mu.Unlock()
	return settle(ctx, handle, hold, err)
}

func (f *fakeTelephony) EndCall(handle domain.CallHandle, reason domain.EndReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endedCall{handle: handle, reason: reason})
	return nil
}

func (f *fakeTelephony) SetEventHandler(fn func(domain.TelephonyEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTelephony) emit(typ domain.TelephonyEventType, handle domain.CallHandle) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(domain.TelephonyEvent{Type: typ, Handle: handle})
}

func (f *fakeTelephony) endedCalls() []endedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endedCall(nil), f.ended...)
}

func (f *fakeTelephony) outgoingReports() []outgoingReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outgoingReport(nil), f.outgoing...)
}

func (f *fakeTelephony) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports
}

type fakeAudio struct {
	mu          sync.Mutex
	activated   []domain.SessionID
	deactivated []domain.SessionID
	ops         []string
}

func (f *fakeAudio) Activate(id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, id)
	f.ops = append(f.ops, "activate:"+id.String())
	return nil
}

func (f *fakeAudio) Deactivate(id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	f.ops = append(f.ops, "deactivate:"+id.String())
	return nil
}

func (f *fakeAudio) activations() []domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionID(nil), f.activated...)
}

func (f *fakeAudio) deactivations() []domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionID(nil), f.deactivated...)
}

func (f *fakeAudio) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// recordingObserver flattens notifications into "kind:value" strings.
type recordingObserver struct {
	mu       sync.Mutex
	events   []string
	statuses []domain.CallStatus
	errs     []error
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, s)
}

func (o *recordingObserver) OnModelChanged(tree domain.ChannelTree) {
	o.add(fmt.Sprintf("model:%d", len(tree.Flatten())))
}

func (o *recordingObserver) OnUserTalkStateChanged(user domain.User, talking bool) {
	o.add(fmt.Sprintf("talk:%s:%t", user.Name, talking))
}

func (o *recordingObserver) OnConnectionStateChange(state domain.ConnectionState) {
	o.add("conn:" + string(state))
}

func (o *recordingObserver) OnCallStateChanged(st domain.CallStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "call:"+st.Phase.String())
	o.statuses = append(o.statuses, st)
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "error")
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *recordingObserver) errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func (o *recordingObserver) count(event string) int {
	n := 0
	for _, e := range o.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

type memoryHistory struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

func (m *memoryHistory) Save(_ context.Context, rec domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryHistory) List(_ context.Context, limit int) ([]domain.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CallRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *memoryHistory) saved() []domain.CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CallRecord(nil), m.records...)
}
