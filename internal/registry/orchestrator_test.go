package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/testutil"
)

// fakeWorker answers calls in-process. Connects hand out p1, p2, ... in order.
type fakeWorker struct {
	mu          sync.Mutex
	calls       []string
	nextPeer    int
	peers       map[string][]string
	connectGate chan struct{}
	connectErr  error
	publishGate chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{peers: make(map[string][]string)}
}

func (w *fakeWorker) Call(ctx context.Context, fn string, args ...any) (any, error) {
	w.mu.Lock()
	w.calls = append(w.calls, fn)
	connectGate, publishGate := w.connectGate, w.publishGate
	w.mu.Unlock()

	switch fn {
	case rpc.FuncConnect:
		if err := wait(ctx, connectGate); err != nil {
			return nil, err
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.connectErr != nil {
			return nil, w.connectErr
		}
		w.nextPeer++
		return rpc.ConnectResult{PeerID: fmt.Sprintf("p%d", w.nextPeer), Peers: w.peers[args[0].(string)]}, nil
	case rpc.FuncPublish:
		return nil, wait(ctx, publishGate)
	case rpc.FuncDisconnect:
		return nil, nil
	}
	return nil, syncerr.ErrUnknownFunction
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fakeWorker) count(fn string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c == fn {
			n++
		}
	}
	return n
}

func names(rooms []*room.Room) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Name())
	}
	return out
}

func TestConnectToRoomScenario(t *testing.T) {
	t.Parallel()
	o := New(newFakeWorker())

	var mu sync.Mutex
	var connection []bool
	o.OnRoomEvent(func(ev room.Event) {
		if ev.Kind == room.EventConnection {
			mu.Lock()
			connection = append(connection, ev.Value)
			mu.Unlock()
		}
	})

	r, err := o.ConnectToRoom(context.Background(), "trading-floor")
	if err != nil {
		t.Fatalf("ConnectToRoom: %v", err)
	}
	if r.PeerID() != "p1" || !r.IsConnected() {
		t.Errorf("peer=%q connected=%v", r.PeerID(), r.IsConnected())
	}
	mu.Lock()
	if !reflect.DeepEqual(connection, []bool{true}) {
		t.Errorf("connection updates = %v, want [true]", connection)
	}
	mu.Unlock()
	if got := names(o.ConnectedRooms()); !reflect.DeepEqual(got, []string{"trading-floor"}) {
		t.Errorf("connected rooms = %v", got)
	}
	if got, ok := o.Room("trading-floor"); !ok || got != r {
		t.Error("Room lookup failed")
	}
}

func TestDuplicateConnectIsRejected(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	o := New(w)

	first, err := o.ConnectToRoom(context.Background(), "desk")
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.ConnectToRoom(context.Background(), "desk")
	if !errors.Is(err, syncerr.ErrDuplicateRoom) {
		t.Fatalf("second ConnectToRoom error = %v, want ErrDuplicateRoom", err)
	}
	if w.count(rpc.FuncConnect) != 1 {
		t.Errorf("connect calls = %d, want 1", w.count(rpc.FuncConnect))
	}
	if !first.IsConnected() {
		t.Error("first room disturbed by duplicate attempt")
	}
	if r, _ := o.Room("desk"); r != first {
		t.Error("registry entry replaced")
	}
}

func TestInvalidNameIsRejectedBeforeAnyCall(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	o := New(w)

	_, err := o.ConnectToRoom(context.Background(), "a/#")
	if !errors.Is(err, syncerr.ErrInvalidRoomName) {
		t.Fatalf("error = %v, want ErrInvalidRoomName", err)
	}
	if w.count(rpc.FuncConnect) != 0 || len(o.Rooms()) != 0 {
		t.Error("invalid name reached the worker or the registry")
	}
}

func TestFailedConnectLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	w.connectErr = &syncerr.RemoteError{Function: rpc.FuncConnect, Message: "dial failed"}
	o := New(w)

	if _, err := o.ConnectToRoom(context.Background(), "desk"); !syncerr.IsRemote(err) {
		t.Fatalf("error = %v, want remote error", err)
	}
	if len(o.Rooms()) != 0 {
		t.Errorf("rooms = %v", names(o.Rooms()))
	}
	if s := o.Stats(); s != (Stats{AllRoomsInSync: true}) {
		t.Errorf("stats = %+v", s)
	}

	// The user may retry.
	w.mu.Lock()
	w.connectErr = nil
	w.mu.Unlock()
	if _, err := o.ConnectToRoom(context.Background(), "desk"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestTotalParticipants(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	w.peers["a"] = []string{"x", "y"}
	o := New(w)

	if o.TotalParticipants() != 0 {
		t.Fatalf("empty registry participants = %d", o.TotalParticipants())
	}
	if _, err := o.ConnectToRoom(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if got := o.TotalParticipants(); got != 3 {
		t.Errorf("after a: %d, want 3", got)
	}
	if _, err := o.ConnectToRoom(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if got := o.TotalParticipants(); got != 4 {
		t.Errorf("after b: %d, want 4", got)
	}

	// b's roster is replaced, not merged.
	o.RouteEvent("p2", rpc.EventPeersUpdate, []string{"z"})
	if got := o.TotalParticipants(); got != 5 {
		t.Errorf("after roster: %d, want 5", got)
	}
	o.RouteEvent("p1", rpc.EventPeersUpdate, []string{})
	if got := o.TotalParticipants(); got != 3 {
		t.Errorf("after a emptied: %d, want 3", got)
	}

	if err := o.DisconnectFromRoom(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if got := o.TotalParticipants(); got != 1 {
		t.Errorf("after b left: %d, want 1", got)
	}
}

func TestAllRoomsInSync(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	o := New(w)

	if !o.AllRoomsInSync() {
		t.Fatal("zero rooms should be vacuously in sync")
	}
	if _, err := o.ConnectToRoom(context.Background(), "calm"); err != nil {
		t.Fatal(err)
	}
	busy, err := o.ConnectToRoom(context.Background(), "busy")
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	w.mu.Lock()
	w.publishGate = gate
	w.mu.Unlock()

	sent := make(chan error, 1)
	go func() { sent <- busy.Send(context.Background(), []byte("x"), room.Retained) }()
	testutil.Eventually(t, testutil.Timeout, func() bool { return !o.AllRoomsInSync() }, "busy room never went out of sync")

	if err := o.DisconnectFromRoom(context.Background(), "busy"); err != nil {
		t.Fatal(err)
	}
	if !o.AllRoomsInSync() {
		t.Error("removing the only out-of-sync room should restore sync")
	}

	close(gate)
	testutil.RequireReceive(t, sent, testutil.Timeout)
}

func TestDisconnectRemovesRoomAndIgnoresStaleEvents(t *testing.T) {
	t.Parallel()
	o := New(newFakeWorker())

	r, err := o.ConnectToRoom(context.Background(), "trading-floor")
	if err != nil {
		t.Fatal(err)
	}
	peerID := r.PeerID()

	events := 0
	o.OnRoomEvent(func(room.Event) { events++ })

	if err := o.DisconnectFromRoom(context.Background(), "trading-floor"); err != nil {
		t.Fatal(err)
	}
	if len(o.Rooms()) != 0 || len(o.ConnectedRooms()) != 0 {
		t.Errorf("rooms=%v connected=%v", names(o.Rooms()), names(o.ConnectedRooms()))
	}
	before := events

	o.RouteEvent(peerID, rpc.EventPeersUpdate, []string{"ghost"})
	if events != before {
		t.Error("stale peersupdate reached a listener")
	}
	if len(r.Peers()) != 0 {
		t.Errorf("closed room peers = %v", r.Peers())
	}

	if err := o.DisconnectFromRoom(context.Background(), "trading-floor"); !errors.Is(err, syncerr.ErrRoomNotFound) {
		t.Errorf("second disconnect error = %v, want ErrRoomNotFound", err)
	}
}

func TestEventsParkedUntilPeerRegisters(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	gate := make(chan struct{})
	w.connectGate = gate
	o := New(w)

	var mu sync.Mutex
	var messages []string
	o.OnRoomEvent(func(ev room.Event) {
		if ev.Kind == room.EventMessage {
			mu.Lock()
			messages = append(messages, string(ev.Payload))
			mu.Unlock()
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := o.ConnectToRoom(context.Background(), "late")
		done <- err
	}()
	testutil.Eventually(t, testutil.Timeout, func() bool { return w.count(rpc.FuncConnect) == 1 })

	// The retained message beats the connect reply.
	o.RouteEvent("p1", rpc.EventMessage, []byte("retained"))
	if !o.IsAnyConnecting() {
		t.Error("IsAnyConnecting should hold while connecting")
	}
	close(gate)

	if err := testutil.RequireReceive(t, done, testutil.Timeout); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(messages, []string{"retained"}) {
		t.Errorf("messages = %v", messages)
	}
	if o.IsAnyConnecting() {
		t.Error("IsAnyConnecting should clear after connect")
	}
}

func TestUnknownPeerDroppedWhenNothingPending(t *testing.T) {
	t.Parallel()
	o := New(newFakeWorker())
	o.RouteEvent("nobody", rpc.EventMessage, []byte("x"))

	r, err := o.ConnectToRoom(context.Background(), "desk")
	if err != nil {
		t.Fatal(err)
	}
	got := 0
	r.On(room.EventMessage, func(room.Event) { got++ })
	o.RouteEvent("nobody", rpc.EventMessage, []byte("y"))
	if got != 0 {
		t.Errorf("message for unknown peer delivered %d times", got)
	}
}

func TestStatsListenerIsEdgeTriggered(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	o := New(w)

	var seen []Stats
	off := o.OnStats(func(s Stats) { seen = append(seen, s) })

	if _, err := o.ConnectToRoom(context.Background(), "desk"); err != nil {
		t.Fatal(err)
	}
	last := seen[len(seen)-1]
	want := Stats{Rooms: 1, ConnectedRooms: 1, AllRoomsInSync: true, TotalParticipants: 1}
	if last != want {
		t.Errorf("last stats = %+v, want %+v", last, want)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Errorf("duplicate notification at %d: %+v", i, seen[i])
		}
	}

	n := len(seen)
	o.RouteEvent("p1", rpc.EventPeersUpdate, []string{})
	if len(seen) != n {
		t.Error("unchanged roster produced a notification")
	}

	off()
	o.RouteEvent("p1", rpc.EventPeersUpdate, []string{"x"})
	if len(seen) != n {
		t.Error("listener called after unsubscribe")
	}
}

func TestCloseLeavesEveryRoom(t *testing.T) {
	t.Parallel()
	w := newFakeWorker()
	o := New(w)
	for _, name := range []string{"a", "b"} {
		if _, err := o.ConnectToRoom(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}

	if err := o.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(o.Rooms()) != 0 {
		t.Errorf("rooms = %v", names(o.Rooms()))
	}
	if w.count(rpc.FuncDisconnect) != 2 {
		t.Errorf("disconnect calls = %d, want 2", w.count(rpc.FuncDisconnect))
	}
	if _, err := o.ConnectToRoom(context.Background(), "c"); !errors.Is(err, syncerr.ErrOrchestratorClosed) {
		t.Errorf("connect after close error = %v", err)
	}
}
