package broker

import (
	"context"
	"slices"
	"testing"

	"github.com/BioHazard786/roomsync/internal/testutil"
	"github.com/BioHazard786/roomsync/internal/wire"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func join(t *testing.T, h *Hub, peerID, topicName string) *Client {
	t.Helper()
	c := NewClient(h, nil, peerID)
	if !h.Add(c) {
		t.Fatal("hub stopped")
	}
	h.Inbound <- Inbound{Client: c, Frame: &wire.Frame{Type: wire.TypeSubscribe, ID: 1, Topic: topicName}}
	return c
}

func next(t *testing.T, c *Client) *wire.Frame {
	t.Helper()
	return testutil.RequireReceive(t, c.Send, testutil.Timeout, "frame for %s", c.PeerID)
}

func TestSubscribeAnnouncesRoster(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "trading-floor")
	welcome := next(t, p1)
	if welcome.Type != wire.TypeWelcome || welcome.PeerID != "p1" || len(welcome.Peers) != 0 {
		t.Fatalf("unexpected welcome for p1: %+v", welcome)
	}

	p2 := join(t, h, "p2", "trading-floor")
	welcome = next(t, p2)
	if welcome.Type != wire.TypeWelcome || !slices.Equal(welcome.Peers, []string{"p1"}) {
		t.Fatalf("unexpected welcome for p2: %+v", welcome)
	}

	roster := next(t, p1)
	if roster.Type != wire.TypePeers || !slices.Equal(roster.Peers, []string{"p2"}) {
		t.Fatalf("p1 roster = %+v, want [p2]", roster)
	}
}

func TestPublishFansOutAndAcks(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "family-watchlist")
	next(t, p1)
	p2 := join(t, h, "p2", "family-watchlist")
	next(t, p2)
	next(t, p1) // roster

	h.Inbound <- Inbound{Client: p1, Frame: &wire.Frame{Type: wire.TypePublish, ID: 42, Payload: []byte("hi"), QoS: wire.ExactlyOnce}}

	ack := next(t, p1)
	if ack.Type != wire.TypeAck || ack.ID != 42 {
		t.Fatalf("expected ack 42, got %+v", ack)
	}
	msg := next(t, p2)
	if msg.Type != wire.TypeMessage || msg.From != "p1" || string(msg.Payload) != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestQoSZeroIsNotAcked(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "quiet")
	next(t, p1)
	h.Inbound <- Inbound{Client: p1, Frame: &wire.Frame{Type: wire.TypePublish, ID: 1, Payload: []byte("x")}}

	// Inbound is FIFO, so the publish is handled before this subscribe.
	p2 := join(t, h, "p2", "quiet")
	next(t, p2)

	f := next(t, p1)
	if f.Type != wire.TypePeers {
		t.Fatalf("expected roster update and no ack, got %+v", f)
	}

	s, err := h.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Topics != 1 || s.Clients != 2 || s.Retained != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRetainedPayloadReachesLateJoiner(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "team/a")
	next(t, p1)
	h.Inbound <- Inbound{Client: p1, Frame: &wire.Frame{Type: wire.TypePublish, ID: 2, Payload: []byte("snapshot"), QoS: wire.ExactlyOnce, Retain: true}}
	next(t, p1) // ack

	late := join(t, h, "p3", "team/a")
	if f := next(t, late); f.Type != wire.TypeWelcome {
		t.Fatalf("expected welcome first, got %+v", f)
	}
	retained := next(t, late)
	if retained.Type != wire.TypeMessage || !retained.Retain || string(retained.Payload) != "snapshot" || retained.From != "p1" {
		t.Fatalf("unexpected retained delivery: %+v", retained)
	}
}

func TestRetainedTopicSurvivesEmptyRoster(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "keep")
	next(t, p1)
	h.Inbound <- Inbound{Client: p1, Frame: &wire.Frame{Type: wire.TypePublish, ID: 1, Payload: []byte("v1"), QoS: 1, Retain: true}}
	next(t, p1)
	h.Unregister <- p1
	testutil.RequireClosed(t, p1.Send, testutil.Timeout, "p1 send channel")

	s, err := h.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Topics != 1 || s.Retained != 1 || s.Clients != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}

	p2 := join(t, h, "p2", "keep")
	next(t, p2)
	if f := next(t, p2); string(f.Payload) != "v1" {
		t.Fatalf("expected retained v1, got %+v", f)
	}
}

func TestPublishBeforeSubscribeFails(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	c := NewClient(h, nil, "p1")
	h.Add(c)
	h.Inbound <- Inbound{Client: c, Frame: &wire.Frame{Type: wire.TypePublish, ID: 9, Payload: []byte("x")}}
	f := next(t, c)
	if f.Type != wire.TypeError || f.ID != 9 {
		t.Fatalf("expected error for id 9, got %+v", f)
	}
}

func TestSubscribeRejectsInvalidTopic(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	c := join(t, h, "p1", "team/#")
	f := next(t, c)
	if f.Type != wire.TypeError {
		t.Fatalf("expected error, got %+v", f)
	}
}

func TestDoubleSubscribeFails(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	c := join(t, h, "p1", "one")
	next(t, c)
	h.Inbound <- Inbound{Client: c, Frame: &wire.Frame{Type: wire.TypeSubscribe, ID: 2, Topic: "two"}}
	if f := next(t, c); f.Type != wire.TypeError || f.ID != 2 {
		t.Fatalf("expected error, got %+v", f)
	}
}

func TestLeaveUpdatesRoster(t *testing.T) {
	t.Parallel()
	h := startHub(t)

	p1 := join(t, h, "p1", "room")
	next(t, p1)
	p2 := join(t, h, "p2", "room")
	next(t, p2)
	next(t, p1)

	h.Unregister <- p2
	roster := next(t, p1)
	if roster.Type != wire.TypePeers || len(roster.Peers) != 0 {
		t.Fatalf("expected empty roster, got %+v", roster)
	}
}
