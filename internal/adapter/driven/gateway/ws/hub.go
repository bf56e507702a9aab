package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

const (
	EventModel      = "model"
	EventTalk       = "talk"
	EventConnection = "connection"
	EventCall       = "call"
	EventError      = "error"
)

const broadcastSize = 256

// Event is the JSON frame pushed to UI clients.
type Event struct {
	Type       string                 `json:"type"`
	Tree       *domain.ChannelTree    `json:"tree,omitempty"`
	Items      []domain.DisplayItem   `json:"items,omitempty"`
	User       *domain.User           `json:"user,omitempty"`
	Talking    bool                   `json:"talking,omitempty"`
	Connection domain.ConnectionState `json:"connection,omitempty"`
	Call       *domain.CallStatus     `json:"call,omitempty"`
	Error      string                 `json:"error,omitempty"`

	seq uint64
}

// stateful events describe current state; only the latest of each type
// matters to a client.
func stateful(typ string) bool {
	switch typ {
	case EventModel, EventConnection, EventCall:
		return true
	}
	return false
}

// Hub fans coordinator notifications out to UI clients. It implements
// port.StateObserver. New clients first receive the latest model,
// connection and call events. When clients fall behind, talk and error
// events are dropped while state events collapse to the newest per type.
type Hub struct {
	clients   map[Client]bool
	last      map[string]Event
	applied   map[string]uint64
	broadcast chan Event
	wake      chan struct{}

	mu       sync.Mutex
	seq      uint64
	overflow map[string]Event

	register   chan Client
	unregister chan Client
	quit       chan struct{}
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		last:       make(map[string]Event),
		applied:    make(map[string]uint64),
		broadcast:  make(chan Event, broadcastSize),
		wake:       make(chan struct{}, 1),
		overflow:   make(map[string]Event),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) OnModelChanged(tree domain.ChannelTree) {
	h.publish(Event{Type: EventModel, Tree: &tree, Items: tree.Flatten()})
}

func (h *Hub) OnUserTalkStateChanged(user domain.User, talking bool) {
	h.publish(Event{Type: EventTalk, User: &user, Talking: talking})
}

func (h *Hub) OnConnectionStateChange(state domain.ConnectionState) {
	h.publish(Event{Type: EventConnection, Connection: state})
}

func (h *Hub) OnCallStateChanged(status domain.CallStatus) {
	h.publish(Event{Type: EventCall, Call: &status})
}

func (h *Hub) OnError(err error) {
	h.publish(Event{Type: EventError, Error: err.Error()})
}

// publish never blocks the caller; the coordinator calls it from its own
// goroutine.
func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.seq = h.seq
	select {
	case h.broadcast <- ev:
		return
	default:
	}
	if !stateful(ev.Type) {
		log.Warn().Str("type", ev.Type).Msg("Broadcast channel full, dropping event")
		return
	}
	h.overflow[ev.Type] = ev
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) takeOverflow() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, typ := range []string{EventModel, EventConnection, EventCall} {
		if ev, ok := h.overflow[typ]; ok {
			out = append(out, ev)
			delete(h.overflow, typ)
		}
	}
	return out
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Msg("Client registered")
			for _, typ := range []string{EventModel, EventConnection, EventCall} {
				if ev, ok := h.last[typ]; ok {
					h.send(client, ev)
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case ev := <-h.broadcast:
			h.deliver(ev)

		case <-h.wake:
			for _, ev := range h.takeOverflow() {
				h.deliver(ev)
			}
		}
	}
}

func (h *Hub) deliver(ev Event) {
	if stateful(ev.Type) {
		if ev.seq <= h.applied[ev.Type] {
			return
		}
		h.applied[ev.Type] = ev.seq
		h.last[ev.Type] = ev
	}
	for client := range h.clients {
		h.send(client, ev)
	}
}

func (h *Hub) send(client Client, ev Event) {
	if err := client.Send(ev); err != nil {
		log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending event")
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}
