// Package registry owns the set of joined rooms, routes worker events to them
// by peer id, and keeps the aggregate state the UI reads.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/syncerr"
)

// MaxParkedEvents bounds the events held for peer ids that are still being
// registered.
const MaxParkedEvents = 256

// Stats is the aggregate view over every registered room.
type Stats struct {
	Rooms             int
	ConnectedRooms    int
	IsAnyConnecting   bool
	AllRoomsInSync    bool
	TotalParticipants int
}

type parkedEvent struct {
	peerID string
	name   string
	data   any
}

// Orchestrator is the room registry. Worker events must be routed to it via
// RouteEvent (it implements rpc.EventRouter).
//
// Room listeners run on the goroutine that delivers worker events. They must
// not block on a worker call, or the reply can never be dispatched.
type Orchestrator struct {
	caller rpc.Caller
	logger *slog.Logger

	// routeMu serializes event delivery with the replay of parked events so
	// a room never sees a newer event before an older parked one.
	routeMu sync.Mutex

	mu      sync.Mutex
	rooms   map[string]*room.Room
	byPeer  map[string]*room.Room
	pending map[*room.Room]struct{}
	parked  []parkedEvent
	closed  bool

	stats          Stats
	statsSeq       uint64
	statsListeners map[int]func(Stats)
	roomListeners  map[int]func(room.Event)
	nextListener   int
}

var _ rpc.EventRouter = (*Orchestrator)(nil)

func New(caller rpc.Caller) *Orchestrator {
	return &Orchestrator{
		caller:         caller,
		logger:         slog.Default().With("component", "registry"),
		rooms:          make(map[string]*room.Room),
		byPeer:         make(map[string]*room.Room),
		pending:        make(map[*room.Room]struct{}),
		stats:          Stats{AllRoomsInSync: true},
		statsListeners: make(map[int]func(Stats)),
		roomListeners:  make(map[int]func(room.Event)),
	}
}

// ConnectToRoom creates, registers and connects the room called name.
// Invalid and duplicate names are rejected before any network activity. A
// failed connect leaves the registry as it was.
func (o *Orchestrator) ConnectToRoom(ctx context.Context, name string) (*room.Room, error) {
	r, err := room.New(name, o.caller,
		room.WithConnectedHook(o.registerPeer),
		room.WithClosedHook(o.forget),
	)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, syncerr.NewRoomError("connect to room", name, syncerr.ErrOrchestratorClosed)
	}
	if _, exists := o.rooms[name]; exists {
		o.mu.Unlock()
		return nil, syncerr.NewRoomError("connect to room", name, syncerr.ErrDuplicateRoom)
	}
	o.rooms[name] = r
	o.pending[r] = struct{}{}
	o.mu.Unlock()

	r.OnAny(o.handleRoomEvent)
	o.recompute()

	o.logger.Debug("connecting", "room", name)
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// DisconnectFromRoom closes the named room. The registry entry is removed by
// the room's close hook, not here.
func (o *Orchestrator) DisconnectFromRoom(ctx context.Context, name string) error {
	o.mu.Lock()
	r, ok := o.rooms[name]
	o.mu.Unlock()
	if !ok {
		return syncerr.NewRoomError("disconnect from room", name, syncerr.ErrRoomNotFound)
	}
	return r.Close(ctx)
}

// registerPeer maps the room's peer id and replays anything parked for it.
func (o *Orchestrator) registerPeer(r *room.Room) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	peerID := r.PeerID()
	o.mu.Lock()
	if o.rooms[r.Name()] != r || r.State() == room.Closed {
		o.mu.Unlock()
		return
	}
	delete(o.pending, r)
	o.byPeer[peerID] = r

	var replay []parkedEvent
	kept := o.parked[:0]
	for _, ev := range o.parked {
		if ev.peerID == peerID {
			replay = append(replay, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	o.parked = kept
	if len(o.pending) == 0 {
		o.parked = nil
	}
	o.mu.Unlock()

	if len(replay) > 0 {
		o.logger.Debug("replaying parked events", "room", r.Name(), "peer", peerID, "count", len(replay))
	}
	for _, ev := range replay {
		r.HandleEvent(ev.name, ev.data)
	}
}

// forget drops every registry entry for r. It runs from the room's close
// hook, before the close event reaches listeners.
func (o *Orchestrator) forget(r *room.Room) {
	o.mu.Lock()
	if o.rooms[r.Name()] == r {
		delete(o.rooms, r.Name())
	}
	if peerID := r.PeerID(); peerID != "" && o.byPeer[peerID] == r {
		delete(o.byPeer, peerID)
	}
	delete(o.pending, r)
	if len(o.pending) == 0 {
		o.parked = nil
	}
	o.mu.Unlock()

	o.logger.Debug("room removed", "room", r.Name())
	o.recompute()
}

// RouteEvent delivers a worker event to the room that owns peerID. Events for
// unknown peers are parked while a room is still registering, and dropped
// otherwise.
func (o *Orchestrator) RouteEvent(peerID, eventName string, data any) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	o.mu.Lock()
	r, ok := o.byPeer[peerID]
	if !ok {
		if len(o.pending) > 0 {
			if len(o.parked) >= MaxParkedEvents {
				o.logger.Warn("parked event limit reached, dropping oldest", "peer", o.parked[0].peerID)
				o.parked = o.parked[1:]
			}
			o.parked = append(o.parked, parkedEvent{peerID: peerID, name: eventName, data: data})
		} else {
			o.logger.Debug("dropping event for unknown peer", "peer", peerID, "event", eventName)
		}
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	r.HandleEvent(eventName, data)
}

func (o *Orchestrator) handleRoomEvent(ev room.Event) {
	switch ev.Kind {
	case room.EventConnecting, room.EventConnection, room.EventSync, room.EventPeers:
		o.recompute()
	}

	o.mu.Lock()
	listeners := make([]func(room.Event), 0, len(o.roomListeners))
	for _, id := range sortedKeys(o.roomListeners) {
		listeners = append(listeners, o.roomListeners[id])
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// recompute refreshes the aggregates and notifies stats listeners when they
// changed. A notification superseded by a newer one is skipped.
func (o *Orchestrator) recompute() {
	o.mu.Lock()
	next := Stats{Rooms: len(o.rooms), AllRoomsInSync: true}
	for _, r := range o.rooms {
		if r.IsConnecting() {
			next.IsAnyConnecting = true
		}
		if !r.IsInSync() {
			next.AllRoomsInSync = false
		}
		if r.IsConnected() {
			next.ConnectedRooms++
			next.TotalParticipants += 1 + len(r.Peers())
		}
	}
	if next == o.stats {
		o.mu.Unlock()
		return
	}
	o.stats = next
	o.statsSeq++
	seq := o.statsSeq
	listeners := make([]func(Stats), 0, len(o.statsListeners))
	for _, id := range sortedKeys(o.statsListeners) {
		listeners = append(listeners, o.statsListeners[id])
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		o.mu.Lock()
		current := o.statsSeq == seq
		o.mu.Unlock()
		if !current {
			return
		}
		fn(next)
	}
}

// OnStats registers fn for aggregate changes.
func (o *Orchestrator) OnStats(fn func(Stats)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextListener++
	id := o.nextListener
	o.statsListeners[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.statsListeners, id)
		o.mu.Unlock()
	}
}

// OnRoomEvent registers fn for the notifications of every room.
func (o *Orchestrator) OnRoomEvent(fn func(room.Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextListener++
	id := o.nextListener
	o.roomListeners[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.roomListeners, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *Orchestrator) IsAnyConnecting() bool { return o.Stats().IsAnyConnecting }

func (o *Orchestrator) AllRoomsInSync() bool { return o.Stats().AllRoomsInSync }

func (o *Orchestrator) TotalParticipants() int { return o.Stats().TotalParticipants }

// Room looks up a registered room by name.
func (o *Orchestrator) Room(name string) (*room.Room, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms[name]
	return r, ok
}

// Rooms returns every registered room ordered by name.
func (o *Orchestrator) Rooms() []*room.Room {
	o.mu.Lock()
	out := make([]*room.Room, 0, len(o.rooms))
	for _, r := range o.rooms {
		out = append(out, r)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ConnectedRooms returns the registered rooms whose session is up.
func (o *Orchestrator) ConnectedRooms() []*room.Room {
	rooms := o.Rooms()
	return slices.DeleteFunc(rooms, func(r *room.Room) bool { return !r.IsConnected() })
}

// Close leaves every room and rejects further connects.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	var errs []error
	for _, r := range o.Rooms() {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
