package port

import (
	"context"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

type ServerAddress struct {
	Host string
	Port int
}

type Credentials struct {
	Username string
	Password string
	Tokens   []string
}

// SignalingListener receives the events of one connection. It must not block.
type SignalingListener func(ev domain.SignalingEvent)

// SignalingClient owns a single connection to the voice signaling service.
// It keeps no call identity: events of a connection go to the listener
// passed to the Connect call that opened it.
type SignalingClient interface {
	Connect(ctx context.Context, server ServerAddress, creds Credentials, listener SignalingListener) error
	Disconnect() error
	SetMuted(muted bool) error
	SetDeafened(deafened bool) error
	JoinChannel(id domain.ChannelID) error
	// CreateChannel is fire-and-forget: the new channel only shows up later
	// through a tree change.
	CreateChannel(name string, parent domain.ChannelID) error
	ChannelTree() domain.ChannelTree
}
