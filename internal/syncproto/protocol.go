// Package syncproto mirrors an allow-listed subset of application state
// across every connected room.
//
// Outbound: a store change touching an allow-listed key publishes a snapshot
// of all allow-listed keys to every connected room with acknowledged,
// retained delivery. Inbound: a room message is filtered to recognized keys
// and applied as one store update, without being published back.
package syncproto

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// DefaultKeys is the allow-list used when none is configured.
var DefaultKeys = []string{"watchlists", "portfolios"}

// Store is the application state the protocol mirrors.
type Store interface {
	Knows(key string) bool
	Snapshot(keys ...string) map[string]any
	Update(patch map[string]any) error
	Subscribe(fn func(changed []string)) func()
}

// Rooms is the set of rooms snapshots go to and messages come from.
type Rooms interface {
	ConnectedRooms() []*room.Room
	OnRoomEvent(fn func(room.Event)) func()
}

type fingerprint = [32]byte

type inbound struct {
	room    string
	payload []byte
}

// Protocol wires a Store to a set of Rooms.
type Protocol struct {
	store       Store
	rooms       Rooms
	keys        []string
	allowed     map[string]struct{}
	sendTimeout time.Duration
	logger      *slog.Logger

	// suppress is raised while an inbound snapshot is being applied.
	suppress atomic.Int32

	mu      sync.Mutex
	ctx     context.Context
	shared  fingerprint
	known   bool
	queue   []inbound
	wake    chan struct{}
	ready   chan struct{}
	applied atomic.Uint64
	sent    atomic.Uint64
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithSendTimeout bounds every publish. Zero means no bound beyond the run context.
func WithSendTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.sendTimeout = d }
}

// New creates a protocol for the allow-listed keys. Nothing happens until Run.
func New(store Store, rooms Rooms, keys []string, opts ...Option) *Protocol {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	p := &Protocol{
		store:   store,
		rooms:   rooms,
		keys:    slices.Clone(keys),
		allowed: make(map[string]struct{}, len(keys)),
		logger:  slog.Default().With("component", "syncproto"),
		ctx:     context.Background(),
		wake:    make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}
	slices.Sort(p.keys)
	p.keys = slices.Compact(p.keys)
	for _, k := range p.keys {
		p.allowed[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Keys returns the allow-list.
func (p *Protocol) Keys() []string { return slices.Clone(p.keys) }

// Run subscribes to the store and the rooms and applies inbound snapshots
// until ctx is done. Inbound messages are queued so the goroutine delivering
// room events never waits on a store update.
func (p *Protocol) Run(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	offStore := p.store.Subscribe(p.onStateChanged)
	defer offStore()
	offRooms := p.rooms.OnRoomEvent(p.onRoomEvent)
	defer offRooms()
	close(p.ready)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, msg := range batch {
			if err := p.Apply(ctx, msg.payload); err != nil {
				p.logger.Warn("dropping inbound snapshot", "room", msg.room, "error", err)
			}
		}
	}
}

// Ready is closed once Run has subscribed to the store and the rooms.
func (p *Protocol) Ready() <-chan struct{} { return p.ready }

func (p *Protocol) onRoomEvent(ev room.Event) {
	if ev.Kind != room.EventMessage {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, inbound{room: ev.Room.Name(), payload: ev.Payload})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Protocol) onStateChanged(changed []string) {
	if !slices.ContainsFunc(changed, p.isAllowed) {
		return
	}
	if p.suppress.Load() > 0 {
		return
	}

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if err := p.Publish(ctx); err != nil {
		p.logger.Warn("publish failed", "error", err)
	}
}

func (p *Protocol) isAllowed(key string) bool {
	_, ok := p.allowed[key]
	return ok
}

// Snapshot returns the current values of the allow-listed keys.
func (p *Protocol) Snapshot() map[string]any {
	return p.store.Snapshot(p.keys...)
}

// Publish sends the current snapshot to every connected room. A snapshot
// identical to the last one shared with the rooms, in either direction, is
// not sent again.
func (p *Protocol) Publish(ctx context.Context) error {
	payload, err := wire.Marshal(p.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake3.Sum256(payload)

	p.mu.Lock()
	echo := p.known && p.shared == sum
	p.mu.Unlock()
	if echo {
		p.logger.Debug("snapshot matches shared state, not publishing")
		return nil
	}

	rooms := p.rooms.ConnectedRooms()
	if len(rooms) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range rooms {
		g.Go(func() error {
			sendCtx := ctx
			if p.sendTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, p.sendTimeout)
				defer cancel()
			}
			return r.Send(sendCtx, payload, room.Retained)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.sent.Add(1)
	p.remember(sum)
	p.logger.Debug("snapshot published", "rooms", len(rooms), "bytes", len(payload))
	return nil
}

// Apply merges an inbound snapshot into the store. Keys that are not
// allow-listed or not known to the store are ignored. The resulting change
// is not published back.
func (p *Protocol) Apply(ctx context.Context, payload []byte) error {
	var snapshot map[string]any
	if err := wire.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	patch := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if p.isAllowed(k) && p.store.Knows(k) {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return nil
	}

	before := p.Snapshot()
	p.suppress.Add(1)
	err := p.store.Update(patch)
	p.suppress.Add(-1)
	if err != nil {
		return err
	}
	// Taken after the counter drops, so a local change whose notification
	// was suppressed is always in after.
	after := p.Snapshot()
	p.applied.Add(1)

	expected := before
	for k, v := range patch {
		expected[k] = v
	}
	want, err := fingerprintOf(expected)
	if err != nil {
		return err
	}
	p.remember(want)

	// A local change that landed while the apply was suppressed is not in
	// the applied state. It still has to reach the rooms.
	got, err := fingerprintOf(after)
	if err != nil {
		return err
	}
	if got != want {
		return p.Publish(ctx)
	}
	return nil
}

func fingerprintOf(snapshot map[string]any) (fingerprint, error) {
	data, err := wire.Marshal(snapshot)
	if err != nil {
		return fingerprint{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return blake3.Sum256(data), nil
}

func (p *Protocol) remember(sum fingerprint) {
	p.mu.Lock()
	p.shared = sum
	p.known = true
	p.mu.Unlock()
}

// Stats counts snapshots published and applied since creation.
type Stats struct {
	Published uint64
	Applied   uint64
}

func (p *Protocol) Stats() Stats {
	return Stats{Published: p.sent.Load(), Applied: p.applied.Load()}
}
