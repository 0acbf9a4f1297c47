package worker

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// session is one subscribed link, identified by the peer id the broker gave it.
type session struct {
	peerID string
	topic  string
	link   Link

	mu     sync.Mutex
	nextID uint64
	acks   map[uint64]chan error
	peers  []string
	closed bool
}

func newSession(peerID, topic string, link Link, peers []string) *session {
	return &session{
		peerID: peerID,
		topic:  topic,
		link:   link,
		nextID: 1, // the subscribe frame used id 1
		acks:   make(map[uint64]chan error),
		peers:  slices.Clone(peers),
	}
}

// handshake subscribes link to topic and waits for the broker's welcome.
func handshake(ctx context.Context, link Link, topic string) (*wire.Frame, error) {
	if err := link.Send(ctx, &wire.Frame{Type: wire.TypeSubscribe, ID: 1, Topic: topic}); err != nil {
		return nil, err
	}

	select {
	case f, ok := <-link.Incoming():
		if !ok {
			return nil, syncerr.ErrSessionClosed
		}
		switch f.Type {
		case wire.TypeWelcome:
			if f.PeerID == "" {
				return nil, errors.New("broker welcome carried no peer id")
			}
			return f, nil
		case wire.TypeError:
			return nil, errors.New(f.Error)
		default:
			return nil, errors.New("unexpected frame before welcome: " + f.Type)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// publish queues a publish frame. For qos > 0 the returned channel yields the
// broker's verdict; for qos 0 it is nil.
func (s *session) publish(ctx context.Context, payload []byte, qos uint8, retain bool) (<-chan error, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, syncerr.ErrSessionClosed
	}
	s.nextID++
	id := s.nextID
	var ack chan error
	if qos > wire.AtMostOnce {
		ack = make(chan error, 1)
		s.acks[id] = ack
	}
	s.mu.Unlock()

	err := s.link.Send(ctx, &wire.Frame{Type: wire.TypePublish, ID: id, Payload: payload, QoS: qos, Retain: retain})
	if err != nil {
		s.resolve(id, err)
		return nil, err
	}
	return ack, nil
}

// resolve settles the ack waiter for id, if any.
func (s *session) resolve(id uint64, err error) bool {
	s.mu.Lock()
	ack, ok := s.acks[id]
	if ok {
		delete(s.acks, id)
	}
	s.mu.Unlock()
	if ok {
		ack <- err
	}
	return ok
}

func (s *session) setPeers(peers []string) {
	s.mu.Lock()
	s.peers = slices.Clone(peers)
	s.mu.Unlock()
}

func (s *session) roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.peers)
}

// close shuts the link and fails every outstanding ack.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	acks := s.acks
	s.acks = make(map[uint64]chan error)
	s.mu.Unlock()

	s.link.Close()
	for _, ack := range acks {
		ack <- syncerr.ErrSessionClosed
	}
}
