// Package session assembles one device's sync stack: the transport worker,
// the bridge to it, the room registry, the application store and the state
// broadcast protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/roomsync/internal/config"
	"github.com/BioHazard786/roomsync/internal/joinurl"
	"github.com/BioHazard786/roomsync/internal/registry"
	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/store"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/syncproto"
	"github.com/BioHazard786/roomsync/internal/worker"
)

// Session is a running device.
type Session struct {
	Config   *config.Config
	Worker   *worker.Worker
	Bridge   *rpc.Bridge
	Rooms    *registry.Orchestrator
	Store    *store.Store
	Protocol *syncproto.Protocol

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

// Option configures a Session.
type Option func(*options)

type options struct {
	dialer  worker.Dialer
	initial map[string]any
}

// WithDialer replaces the websocket dialer built from the config.
func WithDialer(d worker.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithState seeds the application store. Every sync key missing from state
// starts as an empty list.
func WithState(state map[string]any) Option {
	return func(o *options) { o.initial = state }
}

// New wires a session from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Session {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = worker.WebsocketDialer(cfg.BrokerURL)
	}

	initial := make(map[string]any, len(o.initial)+len(cfg.SyncKeys))
	for k, v := range o.initial {
		initial[k] = v
	}
	for _, k := range cfg.SyncKeys {
		if _, ok := initial[k]; !ok {
			initial[k] = []any{}
		}
	}

	w := worker.New(o.dialer)
	bridge := rpc.NewBridge(w)
	rooms := registry.New(bridge)
	st := store.New(initial)

	return &Session{
		Config:   cfg,
		Worker:   w,
		Bridge:   bridge,
		Rooms:    rooms,
		Store:    st,
		Protocol: syncproto.New(st, rooms, cfg.SyncKeys, syncproto.WithSendTimeout(cfg.CallTimeout)),
		logger:   slog.Default().With("component", "session"),
	}
}

// Start launches the worker, the bridge dispatcher and the protocol. It
// returns once the protocol is observing the store.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g
	s.mu.Unlock()

	g.Go(func() error { return s.Worker.Run(gctx) })
	g.Go(func() error { return s.Bridge.Serve(gctx, s.Rooms) })
	g.Go(func() error { return s.Protocol.Run(gctx) })

	select {
	case <-s.Protocol.Ready():
		return nil
	case <-gctx.Done():
		return s.Wait()
	}
}

// Wait blocks until the session stops and reports why. A stop caused by
// Close or by cancelling the start context is not an error.
func (s *Session) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, syncerr.ErrWorkerStopped) {
		return nil
	}
	return err
}

// Join connects to a room, bounded by the configured connect timeout.
func (s *Session) Join(ctx context.Context, name string) (*room.Room, error) {
	if s.Config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.ConnectTimeout)
		defer cancel()
	}
	return s.Rooms.ConnectToRoom(ctx, name)
}

// JoinTarget joins a room given either its name or a join link.
func (s *Session) JoinTarget(ctx context.Context, target string) (*room.Room, error) {
	if name, ok := joinurl.ParseJoinRoom(target); ok {
		target = name
	}
	return s.Join(ctx, target)
}

// Leave disconnects from a room.
func (s *Session) Leave(ctx context.Context, name string) error {
	return s.Rooms.DisconnectFromRoom(ctx, name)
}

// Set applies a local state change; allow-listed keys are published to every
// connected room before Set returns.
func (s *Session) Set(patch map[string]any) error {
	if err := s.Store.Update(patch); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// ShareURL returns the join link for a room.
func (s *Session) ShareURL(name string) (string, error) {
	return joinurl.ShareURL(s.Config.ShareBaseURL, name)
}

// Close leaves every room and stops the session. It is safe to call more
// than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if s.Config.CallTimeout > 0 {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, s.Config.CallTimeout)
		defer c()
	}
	err := s.Rooms.Close(ctx)
	if cancel != nil {
		cancel()
	}
	if werr := s.Wait(); werr != nil {
		err = errors.Join(err, werr)
	}
	s.logger.Debug("session closed")
	return err
}
