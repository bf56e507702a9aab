package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

type fakeClient struct {
	id     string
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) *Hub {
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func TestHubBroadcastsObserverEvents(t *testing.T) {
	h := startHub(t)
	c := &fakeClient{id: "ui-1"}
	h.Register(c)

	tree := domain.NewChannelTree(domain.Channel{Name: "Root", Children: []domain.Channel{{ID: 1, Name: "Lobby"}}})
	h.OnModelChanged(tree)
	h.OnConnectionStateChange(domain.ConnectionConnected)
	h.OnUserTalkStateChanged(domain.User{Name: "alice"}, true)
	h.OnCallStateChanged(domain.CallStatus{Phase: domain.PhaseRinging})
	h.OnError(errors.New("permission denied"))

	require.Eventually(t, func() bool { return len(c.types()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventModel, EventConnection, EventTalk, EventCall, EventError}, c.types())

	c.mu.Lock()
	model := c.events[0]
	c.mu.Unlock()
	assert.Len(t, model.Items, 2)
}

func TestHubReplaysLatestStateToNewClients(t *testing.T) {
	h := startHub(t)
	first := &fakeClient{id: "ui-1"}
	h.Register(first)

	h.OnConnectionStateChange(domain.ConnectionConnected)
	h.OnCallStateChanged(domain.CallStatus{Phase: domain.PhaseRinging})
	h.OnCallStateChanged(domain.CallStatus{Phase: domain.PhaseActive})
	h.OnUserTalkStateChanged(domain.User{Name: "alice"}, true)
	require.Eventually(t, func() bool { return len(first.types()) == 4 }, time.Second, 5*time.Millisecond)

	late := &fakeClient{id: "ui-2"}
	h.Register(late)
	require.Eventually(t, func() bool { return len(late.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventConnection, EventCall}, late.types())
	late.mu.Lock()
	assert.Equal(t, domain.PhaseActive, late.events[1].Call.Phase)
	late.mu.Unlock()
}

func TestHubDropsFailingClient(t *testing.T) {
	h := startHub(t)
	bad := &fakeClient{id: "ui-bad", fail: true}
	h.Register(bad)

	h.OnConnectionStateChange(domain.ConnectionDisconnected)
	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
}

func (c *fakeClient) lastOf(typ string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == typ {
			return c.events[i], true
		}
	}
	return Event{}, false
}

func TestHubKeepsLatestStateWhenBufferOverflows(t *testing.T) {
	h := NewHub()
	h.OnConnectionStateChange(domain.ConnectionConnected)
	for i := 0; i < broadcastSize+50; i++ {
		h.OnUserTalkStateChanged(domain.User{Name: "alice"}, i%2 == 0)
	}
	h.OnConnectionStateChange(domain.ConnectionDisconnected)
	h.OnCallStateChanged(domain.CallStatus{Phase: domain.PhaseRinging})
	h.OnCallStateChanged(domain.CallStatus{Phase: domain.PhaseIdle})

	go h.Run()
	t.Cleanup(h.Stop)
	c := &fakeClient{id: "ui-1"}
	h.Register(c)

	require.Eventually(t, func() bool {
		conn, ok := c.lastOf(EventConnection)
		if !ok || conn.Connection != domain.ConnectionDisconnected {
			return false
		}
		call, ok := c.lastOf(EventCall)
		return ok && call.Call.Phase == domain.PhaseIdle
	}, 2*time.Second, 5*time.Millisecond)

	late := &fakeClient{id: "ui-2"}
	h.Register(late)
	require.Eventually(t, func() bool {
		_, ok := late.lastOf(EventConnection)
		return ok
	}, time.Second, 5*time.Millisecond)
	late.mu.Lock()
	defer late.mu.Unlock()
	var states []domain.ConnectionState
	for _, ev := range late.events {
		if ev.Type == EventConnection {
			states = append(states, ev.Connection)
		}
	}
	assert.Equal(t, []domain.ConnectionState{domain.ConnectionDisconnected}, states, "stale state is never replayed")
}
