package mumble

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/gumble/gumble"

	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
)

func TestSnapshotTreeOrdersSiblings(t *testing.T) {
	lobby := &gumble.Channel{ID: 3, Name: "Lobby", Position: 1}
	ops := &gumble.Channel{ID: 4, Name: "Ops", Position: 0}
	adhoc := &gumble.Channel{ID: 7, Name: "c-1234", Position: 0, Temporary: true}
	root := &gumble.Channel{
		ID:       0,
		Name:     "Root",
		Children: gumble.Channels{3: lobby, 4: ops, 7: adhoc},
		Users: gumble.Users{
			9: {Session: 9, Name: "zed", SelfMuted: true},
			2: {Session: 2, Name: "amy"},
		},
	}

	tree := snapshotTree(gumble.Channels{0: root, 3: lobby, 4: ops, 7: adhoc})
	require.False(t, tree.Empty())

	var names []string
	tree.Walk(func(ch *domain.Channel, _ int) bool {
		names = append(names, ch.Name)
		return true
	})
	assert.Equal(t, []string{"Root", "Ops", "c-1234", "Lobby"}, names)
	assert.Equal(t, []domain.User{
		{Session: 2, Name: "amy"},
		{Session: 9, Name: "zed", Muted: true},
	}, tree.Root.Users)
	assert.True(t, tree.Root.Children[1].Temporary)
}

func TestSnapshotTreeWithoutRoot(t *testing.T) {
	assert.True(t, snapshotTree(gumble.Channels{}).Empty())
}

func TestCommandsRequireConnection(t *testing.T) {
	c := New(Options{})
	assert.ErrorIs(t, c.SetMuted(true), domain.ErrNotConnected)
	assert.ErrorIs(t, c.SetDeafened(true), domain.ErrNotConnected)
	assert.ErrorIs(t, c.JoinChannel(1), domain.ErrNotConnected)
	assert.ErrorIs(t, c.CreateChannel("c-1", 0), domain.ErrNotConnected)
	assert.NoError(t, c.Disconnect())
	assert.True(t, c.ChannelTree().Empty())
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	c := New(Options{DialTimeout: time.Second, AllowSelfSigned: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []domain.SignalingEvent
	err = c.Connect(ctx, port.ServerAddress{Host: "127.0.0.1", Port: addr.Port}, port.Credentials{Username: "alice"}, func(ev domain.SignalingEvent) {
		events = append(events, ev)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Empty(t, events)
}

type failingStore struct{}

func (failingStore) Certificate(string) (tls.Certificate, error) {
	return tls.Certificate{}, assert.AnError
}

func TestCertificateFailureIsConnectionError(t *testing.T) {
	c := New(Options{Certificates: failingStore{}})
	err := c.Connect(context.Background(), port.ServerAddress{Host: "127.0.0.1", Port: 1}, port.Credentials{Username: "alice"}, func(domain.SignalingEvent) {})
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.ErrorIs(t, err, assert.AnError)
}
