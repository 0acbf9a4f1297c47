package worker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/testutil"
	"github.com/BioHazard786/roomsync/internal/transport"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// fakeLink plays the broker side of a link inside the test.
type fakeLink struct {
	sent      chan *wire.Frame
	incoming  chan *wire.Frame
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		sent:     make(chan *wire.Frame, 16),
		incoming: make(chan *wire.Frame, 16),
		closed:   make(chan struct{}),
	}
}

func (l *fakeLink) Send(ctx context.Context, f *wire.Frame) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case l.sent <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLink) Incoming() <-chan *wire.Frame { return l.incoming }

// Close mirrors transport.Conn: the incoming channel ends once the link is closed.
func (l *fakeLink) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
	l.drop()
}

// drop simulates the broker going away.
func (l *fakeLink) drop() {
	l.dropOnce.Do(func() { close(l.incoming) })
}

type harness struct {
	w     *Worker
	links chan *fakeLink
}

func startWorker(t *testing.T) *harness {
	t.Helper()
	h := &harness{links: make(chan *fakeLink, 4)}
	h.w = New(DialerFunc(func(ctx context.Context) (Link, error) {
		l := newFakeLink()
		h.links <- l
		return l, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) call(t *testing.T, id uint64, fn string, args ...any) {
	t.Helper()
	env := rpc.Envelope{EnvelopeType: rpc.EnvelopeFunction, FunctionName: fn, Args: args, MessageID: id}
	if err := h.w.Post(context.Background(), env); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func (h *harness) next(t *testing.T) rpc.Envelope {
	t.Helper()
	return testutil.RequireReceive(t, h.w.Receive(), testutil.Timeout, "worker outbox")
}

// connect runs a full handshake and returns the link for the new session.
func (h *harness) connect(t *testing.T, id uint64, topicName, peerID string, peers ...string) *fakeLink {
	t.Helper()
	h.call(t, id, rpc.FuncConnect, topicName)
	link := testutil.RequireReceive(t, h.links, testutil.Timeout, "dial")

	sub := testutil.RequireReceive(t, link.sent, testutil.Timeout, "subscribe frame")
	if sub.Type != wire.TypeSubscribe || sub.Topic != topicName {
		t.Fatalf("unexpected subscribe frame %+v", sub)
	}
	link.incoming <- &wire.Frame{Type: wire.TypeWelcome, PeerID: peerID, Peers: peers}

	resp := h.next(t)
	if !resp.Success || resp.MessageID != id {
		t.Fatalf("connect failed: %+v", resp)
	}
	result, err := rpc.DecodeConnectResult(resp.Result)
	if err != nil {
		t.Fatalf("DecodeConnectResult: %v", err)
	}
	if result.PeerID != peerID {
		t.Fatalf("peer id = %q, want %q", result.PeerID, peerID)
	}
	return link
}

func TestConnectAndForwardEvents(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "trading-floor", "p1", "p9")

	link.incoming <- &wire.Frame{Type: wire.TypeMessage, From: "p9", Payload: []byte("snap")}
	ev := h.next(t)
	if ev.EnvelopeType != rpc.EnvelopeEvent || ev.EventName != rpc.EventMessage || ev.PeerID != "p1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if string(ev.EventData.([]byte)) != "snap" {
		t.Fatalf("payload = %v", ev.EventData)
	}

	link.incoming <- &wire.Frame{Type: wire.TypePeers, Peers: []string{"p9", "p7"}}
	ev = h.next(t)
	if ev.EventName != rpc.EventPeersUpdate || !reflect.DeepEqual(ev.EventData, []string{"p9", "p7"}) {
		t.Fatalf("unexpected roster event %+v", ev)
	}

	h.call(t, 2, rpc.FuncPeers, "p1")
	resp := h.next(t)
	if !resp.Success || !reflect.DeepEqual(resp.Result, []string{"p9", "p7"}) {
		t.Fatalf("peers call = %+v", resp)
	}
}

func TestConnectFailsOnBrokerError(t *testing.T) {
	t.Parallel()
	h := startWorker(t)

	h.call(t, 1, rpc.FuncConnect, "bad")
	link := testutil.RequireReceive(t, h.links, testutil.Timeout, "dial")
	testutil.RequireReceive(t, link.sent, testutil.Timeout, "subscribe frame")
	link.incoming <- &wire.Frame{Type: wire.TypeError, Error: "topic contains a wildcard"}

	resp := h.next(t)
	if resp.Success || !strings.Contains(resp.Error, "wildcard") {
		t.Fatalf("expected failure, got %+v", resp)
	}
	testutil.RequireClosed(t, link.closed, testutil.Timeout, "link closed after failed handshake")
	if n := h.w.Sessions(); n != 0 {
		t.Fatalf("sessions = %d", n)
	}
}

func TestPublishWaitsForAck(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	h.call(t, 2, rpc.FuncPublish, "p1", []byte("data"), 2, true)
	frame := testutil.RequireReceive(t, link.sent, testutil.Timeout, "publish frame")
	if frame.Type != wire.TypePublish || frame.QoS != 2 || !frame.Retain || string(frame.Payload) != "data" {
		t.Fatalf("unexpected publish frame %+v", frame)
	}

	select {
	case env := <-h.w.Receive():
		t.Fatalf("publish answered before ack: %+v", env)
	default:
	}

	link.incoming <- &wire.Frame{Type: wire.TypeAck, ID: frame.ID}
	resp := h.next(t)
	if !resp.Success || resp.MessageID != 2 {
		t.Fatalf("unexpected publish response %+v", resp)
	}
}

func TestPublishQoSZeroAnswersImmediately(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	h.call(t, 2, rpc.FuncPublish, "p1", []byte("x"), 0, false)
	testutil.RequireReceive(t, link.sent, testutil.Timeout, "publish frame")
	if resp := h.next(t); !resp.Success || resp.MessageID != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPublishBrokerErrorFailsCall(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	h.call(t, 2, rpc.FuncPublish, "p1", []byte("x"), 1, false)
	frame := testutil.RequireReceive(t, link.sent, testutil.Timeout, "publish frame")
	link.incoming <- &wire.Frame{Type: wire.TypeError, ID: frame.ID, Error: "nope"}

	if resp := h.next(t); resp.Success || resp.Error != "nope" {
		t.Fatalf("expected failure, got %+v", resp)
	}
}

func TestAbortCancelsAckWait(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	h.call(t, 2, rpc.FuncPublish, "p1", []byte("x"), 2, true)
	testutil.RequireReceive(t, link.sent, testutil.Timeout, "publish frame")

	if err := h.w.Post(context.Background(), rpc.Envelope{EnvelopeType: rpc.EnvelopeAbort, MessageID: 2}); err != nil {
		t.Fatalf("Post abort: %v", err)
	}
	resp := h.next(t)
	if resp.Success || resp.MessageID != 2 || !strings.Contains(resp.Error, context.Canceled.Error()) {
		t.Fatalf("expected cancelled publish, got %+v", resp)
	}
}

func TestRemoteCloseEmitsCloseEvent(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	link.drop()
	ev := h.next(t)
	if ev.EventName != rpc.EventClose || ev.PeerID != "p1" {
		t.Fatalf("expected close event, got %+v", ev)
	}
	if n := h.w.Sessions(); n != 0 {
		t.Fatalf("sessions = %d", n)
	}

	h.call(t, 2, rpc.FuncPublish, "p1", []byte("x"), 0, false)
	if resp := h.next(t); resp.Success {
		t.Fatalf("publish on closed session succeeded: %+v", resp)
	}
}

func TestDisconnectIsQuietAndIdempotent(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	link := h.connect(t, 1, "room", "p1")

	h.call(t, 2, rpc.FuncDisconnect, "p1")
	if resp := h.next(t); !resp.Success || resp.MessageID != 2 {
		t.Fatalf("unexpected disconnect response %+v", resp)
	}
	testutil.RequireClosed(t, link.closed, testutil.Timeout, "link closed")
	link.drop()

	h.call(t, 3, rpc.FuncDisconnect, "p1")
	if resp := h.next(t); !resp.Success || resp.MessageID != 3 {
		t.Fatalf("second disconnect = %+v, want close event suppressed and success", resp)
	}
}

func TestUnknownFunction(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	h.call(t, 1, "launchRockets")
	if resp := h.next(t); resp.Success || !strings.Contains(resp.Error, "unknown worker function") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBadArguments(t *testing.T) {
	t.Parallel()
	h := startWorker(t)
	h.call(t, 1, rpc.FuncConnect, 42)
	if resp := h.next(t); resp.Success || !strings.Contains(resp.Error, "bad call arguments") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPostAfterStop(t *testing.T) {
	t.Parallel()
	w := New(DialerFunc(func(ctx context.Context) (Link, error) { return nil, errors.New("unused") }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	if err := w.Post(context.Background(), rpc.Envelope{}); err == nil {
		t.Fatal("expected error posting to a stopped worker")
	}
	testutil.RequireClosed(t, w.Receive(), testutil.Timeout, "outbox closed")
}
