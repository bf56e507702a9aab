package ws

// Client is one connected UI. Send is only ever called from the hub's run
// goroutine.
type Client interface {
	ID() string
	Send(ev Event) error
	Close() error
}
