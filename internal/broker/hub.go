package broker

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/roomsync/internal/topic"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// Hub is the central brain of the broker.
// It owns every topic and client; all state is touched only from Run.
type Hub struct {
	// topics maps topic names to Topic instances.
	topics map[string]*Topic

	// clients holds every registered client whose Send channel is still open.
	clients map[*Client]struct{}

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound carries frames read from clients.
	Inbound chan Inbound

	stats chan chan Stats
	done  chan struct{}

	logger *slog.Logger
}

// Inbound is a frame together with the client that sent it.
type Inbound struct {
	Client *Client
	Frame  *wire.Frame
}

// Stats is a point-in-time summary of the hub.
type Stats struct {
	Clients  int `json:"clients"`
	Topics   int `json:"topics"`
	Retained int `json:"retained"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]*Topic),
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan Inbound, 64),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "broker"),
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (topics, clients).
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.clients[client] = struct{}{}
			h.logger.Debug("client registered", "peer", client.PeerID, "remote", client.remoteAddr())

		case client := <-h.Unregister:
			h.logger.Debug("client unregistered", "peer", client.PeerID, "remote", client.remoteAddr())
			h.drop(client)

		case in := <-h.Inbound:
			h.handle(in.Client, in.Frame)

		case reply := <-h.stats:
			reply <- h.snapshot()
		}
	}
}

// Stats asks the hub goroutine for a summary.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// submit hands a frame to the hub. It reports false once the hub is gone.
func (h *Hub) submit(c *Client, f *wire.Frame) bool {
	select {
	case h.Inbound <- Inbound{Client: c, Frame: f}:
		return true
	case <-h.done:
		return false
	}
}

// Add registers c with the hub. It reports false once the hub is gone.
func (h *Hub) Add(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) handle(c *Client, f *wire.Frame) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch f.Type {
	case wire.TypeSubscribe:
		h.subscribe(c, f)

	case wire.TypePublish:
		h.publish(c, f)

	default:
		h.logger.Debug("unknown frame type", "type", f.Type, "peer", c.PeerID)
		h.deliver(c, &wire.Frame{Type: wire.TypeError, ID: f.ID, Error: "unknown frame type " + f.Type})
	}
}

func (h *Hub) subscribe(c *Client, f *wire.Frame) {
	if c.Topic != "" {
		h.deliver(c, &wire.Frame{Type: wire.TypeError, ID: f.ID, Error: "already subscribed to " + c.Topic})
		return
	}
	if err := topic.Validate(f.Topic); err != nil {
		h.deliver(c, &wire.Frame{Type: wire.TypeError, ID: f.ID, Error: err.Error()})
		return
	}

	t, ok := h.topics[f.Topic]
	if !ok {
		t = &Topic{Name: f.Topic}
		h.topics[f.Topic] = t
		h.logger.Debug("topic created", "topic", f.Topic)
	}
	t.add(c)
	c.Topic = f.Topic

	h.logger.Info("peer joined", "topic", t.Name, "peer", c.PeerID, "peers", len(t.Peers))

	if !h.deliver(c, &wire.Frame{Type: wire.TypeWelcome, ID: f.ID, Topic: t.Name, PeerID: c.PeerID, Peers: t.others(c)}) {
		return
	}

	// Late joiners receive the latest retained payload right after the welcome.
	if t.Retained != nil {
		h.deliver(c, &wire.Frame{
			Type:    wire.TypeMessage,
			Topic:   t.Name,
			From:    t.Retained.From,
			Payload: t.Retained.Payload,
			Retain:  true,
		})
	}

	h.announcePeers(t, c)
}

func (h *Hub) publish(c *Client, f *wire.Frame) {
	t, ok := h.topics[c.Topic]
	if c.Topic == "" || !ok {
		h.deliver(c, &wire.Frame{Type: wire.TypeError, ID: f.ID, Error: "subscribe before publishing"})
		return
	}

	if f.Retain {
		if len(f.Payload) == 0 {
			t.Retained = nil
		} else {
			t.Retained = &Retained{From: c.PeerID, Payload: append([]byte(nil), f.Payload...)}
		}
	}

	msg := &wire.Frame{Type: wire.TypeMessage, Topic: t.Name, From: c.PeerID, Payload: f.Payload}
	for _, p := range append([]*Client(nil), t.Peers...) {
		if p != c {
			h.deliver(p, msg)
		}
	}

	if f.QoS > wire.AtMostOnce {
		h.deliver(c, &wire.Frame{Type: wire.TypeAck, ID: f.ID})
	}
}

// announcePeers sends every member except skip its updated roster.
func (h *Hub) announcePeers(t *Topic, skip *Client) {
	for _, p := range append([]*Client(nil), t.Peers...) {
		if p != skip {
			h.deliver(p, &wire.Frame{Type: wire.TypePeers, Topic: t.Name, Peers: t.others(p)})
		}
	}
}

// deliver queues f for c without blocking the hub. A client whose buffer is
// full is dropped.
func (h *Hub) deliver(c *Client, f *wire.Frame) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.Send <- f:
		return true
	default:
		h.logger.Warn("client send buffer full, dropping client", "peer", c.PeerID)
		h.drop(c)
		return false
	}
}

// drop removes c from its topic and closes its send channel.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)

	if c.Topic == "" {
		return
	}
	t, ok := h.topics[c.Topic]
	if !ok || !t.remove(c) {
		return
	}
	h.logger.Info("peer left", "topic", t.Name, "peer", c.PeerID, "peers", len(t.Peers))

	if t.idle() {
		delete(h.topics, t.Name)
		h.logger.Debug("topic deleted", "topic", t.Name)
		return
	}
	h.announcePeers(t, nil)
}

func (h *Hub) snapshot() Stats {
	s := Stats{Clients: len(h.clients), Topics: len(h.topics)}
	for _, t := range h.topics {
		if t.Retained != nil {
			s.Retained++
		}
	}
	return s
}

func (h *Hub) shutdown() {
	close(h.done)
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
	h.topics = make(map[string]*Topic)
}
