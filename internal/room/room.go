package room

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/topic"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// State is the connectivity state of a room.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation tags pushed while a call is outstanding.
const (
	opConnect = "connect"
	opSend    = "send"
)

// SendOptions selects the delivery guarantee of a publish.
type SendOptions struct {
	QoS    uint8
	Retain bool
}

// Retained is the strongest delivery: acknowledged, and kept by the broker for
// peers that subscribe later.
var Retained = SendOptions{QoS: wire.ExactlyOnce, Retain: true}

// Room is one joined topic. It tracks two independent things: whether the
// session is up (connectivity) and whether every outbound operation has been
// acknowledged (convergence).
type Room struct {
	name        string
	caller      rpc.Caller
	onConnected func(*Room)
	onClosed    func(*Room)
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	peerID  string
	peers   []string
	ops     map[string]int
	opCount int
	inSync  bool

	listeners    []listener
	nextListener int
}

// Option configures a Room.
type Option func(*Room)

// WithConnectedHook runs fn once the room is connected and its peer id is known.
func WithConnectedHook(fn func(*Room)) Option {
	return func(r *Room) { r.onConnected = fn }
}

// WithClosedHook runs fn when the room closes, before the close event reaches
// listeners.
func WithClosedHook(fn func(*Room)) Option {
	return func(r *Room) { r.onClosed = fn }
}

// New validates name and creates an idle room. No network activity happens
// until Connect.
func New(name string, caller rpc.Caller, opts ...Option) (*Room, error) {
	if err := topic.Validate(name); err != nil {
		return nil, &syncerr.Error{Op: "create room", Room: name, Err: syncerr.ErrInvalidRoomName, Details: err.Error()}
	}

	r := &Room{
		name:   name,
		caller: caller,
		logger: slog.Default().With("component", "room", "room", name),
		ops:    make(map[string]int),
		inSync: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Connect establishes the session. A room that fails to connect is closed and
// must be discarded; it cannot be retried in place.
func (r *Room) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Idle {
		state := r.state
		r.mu.Unlock()
		return &syncerr.Error{Op: "connect", Room: r.name, Err: syncerr.ErrRoomClosed, Details: "room is " + state.String()}
	}
	r.state = Connecting
	events := []Event{{Kind: EventConnecting, Value: true}}
	events = append(events, r.pushLocked(opConnect)...)
	r.mu.Unlock()
	r.fire(events)

	raw, err := r.caller.Call(ctx, rpc.FuncConnect, r.name)
	var result rpc.ConnectResult
	if err == nil {
		result, err = rpc.DecodeConnectResult(raw)
	}

	r.mu.Lock()
	events = r.popLocked(opConnect)
	closed := r.state == Closed
	if err == nil && !closed {
		r.state = Connected
		r.peerID = result.PeerID
		r.peers = slices.Clone(result.Peers)
		events = append(events, Event{Kind: EventConnecting, Value: false}, Event{Kind: EventConnection, Value: true})
		if len(r.peers) > 0 {
			events = append(events, Event{Kind: EventPeers, Peers: slices.Clone(r.peers)})
		}
	}
	r.mu.Unlock()

	switch {
	case err != nil:
		r.fire(events)
		r.logger.Debug("connect failed", "error", err)
		r.shutdown()
		r.removeListeners()
		return syncerr.NewRoomError("connect", r.name, err)

	case closed:
		// Closed while connecting: the session the worker just opened is orphaned.
		r.fire(events)
		r.teardown(ctx, result.PeerID)
		return syncerr.NewRoomError("connect", r.name, syncerr.ErrRoomClosed)
	}

	r.logger.Info("connected", "peer", result.PeerID, "peers", len(result.Peers))
	r.fire(events)
	if r.onConnected != nil {
		r.onConnected(r)
	}
	return nil
}

// Send publishes payload to the room. The room is out of sync until the call
// settles, whether it succeeds or fails.
func (r *Room) Send(ctx context.Context, payload []byte, opts SendOptions) error {
	r.mu.Lock()
	if r.state != Connected {
		r.mu.Unlock()
		return syncerr.NewRoomError("send", r.name, syncerr.ErrNotConnected)
	}
	peerID := r.peerID
	events := r.pushLocked(opSend)
	r.mu.Unlock()
	r.fire(events)

	defer func() {
		r.mu.Lock()
		events := r.popLocked(opSend)
		r.mu.Unlock()
		r.fire(events)
	}()

	if _, err := r.caller.Call(ctx, rpc.FuncPublish, peerID, payload, opts.QoS, opts.Retain); err != nil {
		return syncerr.NewRoomError("send", r.name, err)
	}
	return nil
}

// Close leaves the room. It is idempotent. The worker session is torn down
// best-effort; a teardown failure is logged, not returned.
func (r *Room) Close(ctx context.Context) error {
	peerID, ok := r.shutdown()
	if !ok {
		return nil
	}
	if peerID != "" {
		r.teardown(ctx, peerID)
	}
	r.removeListeners()
	return nil
}

func (r *Room) teardown(ctx context.Context, peerID string) {
	if _, err := r.caller.Call(ctx, rpc.FuncDisconnect, peerID); err != nil {
		r.logger.Debug("teardown failed", "peer", peerID, "error", err)
	}
}

// shutdown moves the room to Closed and notifies. It reports false if the
// room was already closed.
func (r *Room) shutdown() (string, bool) {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return "", false
	}
	prev := r.state
	r.state = Closed
	peerID := r.peerID
	hadPeers := len(r.peers) > 0
	r.peers = nil
	r.mu.Unlock()

	var events []Event
	switch prev {
	case Connecting:
		events = append(events, Event{Kind: EventConnecting, Value: false})
	case Connected:
		events = append(events, Event{Kind: EventConnection, Value: false})
	}
	if hadPeers {
		events = append(events, Event{Kind: EventPeers, Peers: []string{}})
	}
	r.fire(events)

	if r.onClosed != nil {
		r.onClosed(r)
	}
	r.fire([]Event{{Kind: EventClose}})
	r.logger.Info("closed", "peer", peerID)
	return peerID, true
}

// HandleEvent applies a worker event addressed to this room's peer id.
// Events after Close are ignored.
func (r *Room) HandleEvent(name string, data any) {
	switch name {
	case rpc.EventPeersUpdate:
		peers, err := rpc.DecodePeers(data)
		if err != nil {
			r.logger.Debug("dropping malformed roster", "error", err)
			return
		}
		r.mu.Lock()
		if r.state == Closed || slices.Equal(r.peers, peers) {
			r.mu.Unlock()
			return
		}
		r.peers = slices.Clone(peers)
		r.mu.Unlock()
		r.fire([]Event{{Kind: EventPeers, Peers: slices.Clone(peers)}})

	case rpc.EventMessage:
		payload, ok := toPayload(data)
		if !ok {
			r.logger.Debug("dropping message with unexpected payload", "type", fmt.Sprintf("%T", data))
			return
		}
		r.mu.Lock()
		if r.state == Closed {
			r.mu.Unlock()
			return
		}
		var events []Event
		if r.opCount == 0 && !r.inSync {
			r.inSync = true
			events = append(events, Event{Kind: EventSync, Value: true})
		}
		r.mu.Unlock()
		r.fire(append(events, Event{Kind: EventMessage, Payload: payload}))

	case rpc.EventClose:
		if _, ok := r.shutdown(); ok {
			r.removeListeners()
		}

	default:
		r.logger.Debug("ignoring unknown event", "event", name)
	}
}

func toPayload(data any) ([]byte, bool) {
	switch v := data.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// pushLocked records an outstanding operation. Caller holds r.mu.
func (r *Room) pushLocked(tag string) []Event {
	r.ops[tag]++
	r.opCount++
	if r.opCount == 1 && r.inSync {
		r.inSync = false
		return []Event{{Kind: EventSync, Value: false}}
	}
	return nil
}

// popLocked settles one operation with tag. Caller holds r.mu.
func (r *Room) popLocked(tag string) []Event {
	if r.ops[tag] == 0 {
		r.logger.Error("operation popped without a push", "op", tag)
		return nil
	}
	r.ops[tag]--
	if r.ops[tag] == 0 {
		delete(r.ops, tag)
	}
	r.opCount--
	if r.opCount == 0 && !r.inSync {
		r.inSync = true
		return []Event{{Kind: EventSync, Value: true}}
	}
	return nil
}

func (r *Room) Name() string { return r.name }

func (r *Room) PeerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerID
}

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) IsConnecting() bool { return r.State() == Connecting }

func (r *Room) IsConnected() bool { return r.State() == Connected }

func (r *Room) IsInSync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inSync
}

// Peers returns a copy of the other participants' ids.
func (r *Room) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.peers)
}

// PendingOperations reports how many operations are outstanding per tag.
func (r *Room) PendingOperations() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.ops))
	for k, v := range r.ops {
		out[k] = v
	}
	return out
}
