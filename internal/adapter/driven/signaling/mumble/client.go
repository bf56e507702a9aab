package mumble

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"layeh.com/gumble/gumble"
	"layeh.com/gumble/gumbleutil"

	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
)

type Options struct {
	DialTimeout time.Duration
	// AllowSelfSigned skips server certificate verification. Most Mumble
	// servers run with self-signed certificates.
	AllowSelfSigned bool
	Certificates    port.CertificateStore
}

// Client implements port.SignalingClient on top of gumble. It holds at
// most one connection; events of a replaced connection are dropped.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu   sync.Mutex
	conn *gumble.Client
	gen  uint64
	tree domain.ChannelTree
}

func New(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Client{
		opts: opts,
		log:  log.With().Str("component", "mumble").Logger(),
	}
}

func (c *Client) Connect(ctx context.Context, server port.ServerAddress, creds port.Credentials, listener port.SignalingListener) error {
	c.Disconnect()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.tree = domain.ChannelTree{}
	c.mu.Unlock()

	cfg := gumble.NewConfig()
	cfg.Username = creds.Username
	cfg.Password = creds.Password
	cfg.Tokens = gumble.AccessTokens(creds.Tokens)
	cfg.Attach(c.listenerFor(gen, listener))
	cfg.AttachAudio(&talkListener{client: c, gen: gen, emit: listener})

	tlsConf := &tls.Config{
		ServerName:         server.Host,
		InsecureSkipVerify: c.opts.AllowSelfSigned,
	}
	if c.opts.Certificates != nil {
		cert, err := c.opts.Certificates.Certificate(creds.Username)
		if err != nil {
			return fmt.Errorf("%w: client certificate: %w", domain.ErrConnection, err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	c.log.Info().Str("addr", addr).Str("username", creds.Username).Msg("Connecting to voice server")

	type dialResult struct {
		conn *gumble.Client
		err  error
	}
	res := make(chan dialResult, 1)
	go func() {
		conn, err := gumble.DialWithDialer(&net.Dialer{Timeout: c.opts.DialTimeout}, addr, cfg, tlsConf)
		res <- dialResult{conn, err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return c.dialError(gen, listener, r.err)
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			r.conn.Disconnect()
			return fmt.Errorf("%w: connection superseded", domain.ErrConnection)
		}
		c.conn = r.conn
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.gen == gen {
			c.gen++
		}
		c.mu.Unlock()
		go func() {
			if r := <-res; r.conn != nil {
				r.conn.Disconnect()
			}
		}()
		return ctx.Err()
	}
}

func (c *Client) dialError(gen uint64, listener port.SignalingListener, err error) error {
	var reject *gumble.RejectError
	if errors.As(err, &reject) {
		if c.current(gen) {
			listener(domain.NewRejected(reject.Reason))
		}
		return fmt.Errorf("%w: rejected: %s", domain.ErrConnection, reject.Error())
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// refresh stores a new tree snapshot. Callers run inside gumble's event
// dispatch, which already holds the client's state lock.
func (c *Client) refresh(gen uint64, conn *gumble.Client) (domain.ChannelTree, bool) {
	tree := snapshotTree(conn.Channels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return tree, false
	}
	c.tree = tree
	return tree, true
}

func (c *Client) listenerFor(gen uint64, emit port.SignalingListener) gumble.EventListener {
	return &gumbleutil.Listener{
		Connect: func(e *gumble.ConnectEvent) {
			// fires before DialWithDialer returns, so publish the client now
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.conn = e.Client
			c.mu.Unlock()

			emit(domain.SignalingEvent{Type: domain.SignalingOpened})
			self := e.Client.Self
			if !self.IsRegistered() {
				c.log.Info().Str("username", self.Name).Msg("Registering user with server")
				self.Register()
			}
			if tree, ok := c.refresh(gen, e.Client); ok {
				emit(domain.NewTreeChanged(tree))
			}
			emit(domain.NewAuthenticated(domain.UserSession(self.Session)))
		},
		Disconnect: func(e *gumble.DisconnectEvent) {
			if !c.current(gen) {
				return
			}
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()

			ev := domain.NewClosed(nil)
			ev.Reason = e.String
			switch e.Type {
			case gumble.DisconnectUser:
			case gumble.DisconnectKicked:
				ev.Err = fmt.Errorf("%w: kicked: %s", domain.ErrConnection, e.String)
			case gumble.DisconnectBanned:
				ev.Err = fmt.Errorf("%w: banned: %s", domain.ErrConnection, e.String)
			default:
				ev.Err = fmt.Errorf("%w: connection lost: %s", domain.ErrConnection, e.String)
			}
			emit(ev)
		},
		ChannelChange: func(e *gumble.ChannelChangeEvent) {
			if tree, ok := c.refresh(gen, e.Client); ok {
				emit(domain.NewTreeChanged(tree))
			}
		},
		UserChange: func(e *gumble.UserChangeEvent) {
			if tree, ok := c.refresh(gen, e.Client); ok {
				emit(domain.NewTreeChanged(tree))
			}
		},
		PermissionDenied: func(e *gumble.PermissionDeniedEvent) {
			if !c.current(gen) {
				return
			}
			reason := e.String
			if reason == "" {
				reason = fmt.Sprint(e.Type)
			}
			emit(domain.NewPermissionDenied(reason))
		},
	}
}

// talkListener turns incoming audio streams into talk state events. Streams
// are only decoded when an audio codec is registered with gumble.
type talkListener struct {
	client *Client
	gen    uint64
	emit   port.SignalingListener
}

func (l *talkListener) OnAudioStream(e *gumble.AudioStreamEvent) {
	if !l.client.current(l.gen) || e.User == nil {
		return
	}
	user := copyUser(e.User)
	l.emit(domain.NewTalkState(user, true))
	go func() {
		for range e.C {
		}
		if l.client.current(l.gen) {
			l.emit(domain.NewTalkState(user, false))
		}
	}()
}

// Disconnect closes the current connection. It is safe to call when not
// connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.log.Info().Msg("Disconnecting from voice server")
	return conn.Disconnect()
}

// do runs fn with gumble's state lock held.
func (c *Client) do(fn func(conn *gumble.Client) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	var err error
	conn.Do(func() { err = fn(conn) })
	return err
}

func (c *Client) SetMuted(muted bool) error {
	return c.do(func(conn *gumble.Client) error {
		conn.Self.SetSelfMuted(muted)
		return nil
	})
}

func (c *Client) SetDeafened(deafened bool) error {
	return c.do(func(conn *gumble.Client) error {
		conn.Self.SetSelfDeafened(deafened)
		return nil
	})
}

func (c *Client) JoinChannel(id domain.ChannelID) error {
	return c.do(func(conn *gumble.Client) error {
		ch := conn.Channels[uint32(id)]
		if ch == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, id)
		}
		conn.Self.Move(ch)
		return nil
	})
}

func (c *Client) CreateChannel(name string, parent domain.ChannelID) error {
	return c.do(func(conn *gumble.Client) error {
		ch := conn.Channels[uint32(parent)]
		if ch == nil {
			return fmt.Errorf("%w: parent %s", domain.ErrUnknownChannel, parent)
		}
		ch.Add(name, true)
		return nil
	})
}

func (c *Client) ChannelTree() domain.ChannelTree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree
}
