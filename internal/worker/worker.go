package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/roomsync/internal/rpc"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/wire"
)

const mailboxSize = 256

// Worker owns every transport session. It is the only place that touches the
// network: the bridge talks to it exclusively through envelopes.
//
// Envelopes are handled in arrival order on the Run goroutine. Calls that
// block on the network (dial, broker ack) finish on their own goroutine.
type Worker struct {
	dialer Dialer
	inbox  chan rpc.Envelope
	outbox chan rpc.Envelope
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	inflight map[uint64]context.CancelFunc
	stopped  bool

	wg sync.WaitGroup
}

// New creates a worker that opens links with dialer.
func New(dialer Dialer) *Worker {
	return &Worker{
		dialer:   dialer,
		inbox:    make(chan rpc.Envelope, mailboxSize),
		outbox:   make(chan rpc.Envelope, mailboxSize),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "worker"),
		sessions: make(map[string]*session),
		inflight: make(map[uint64]context.CancelFunc),
	}
}

// Post delivers an envelope to the worker's inbox.
func (w *Worker) Post(ctx context.Context, env rpc.Envelope) error {
	select {
	case <-w.done:
		return syncerr.ErrWorkerStopped
	default:
	}
	select {
	case w.inbox <- env:
		return nil
	case <-w.done:
		return syncerr.ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the worker's outbox. It is closed after Run returns.
func (w *Worker) Receive() <-chan rpc.Envelope {
	return w.outbox
}

// Sessions reports how many sessions are open.
func (w *Worker) Sessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Run processes envelopes until ctx ends. On return every session is closed
// and the outbox is closed.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		close(w.done)
		w.closeAll()
		w.wg.Wait()
		close(w.outbox)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-w.inbox:
			w.handle(ctx, env)
		}
	}
}

func (w *Worker) handle(ctx context.Context, env rpc.Envelope) {
	switch env.EnvelopeType {
	case rpc.EnvelopeAbort:
		w.mu.Lock()
		cancel, ok := w.inflight[env.MessageID]
		w.mu.Unlock()
		if ok {
			w.logger.Debug("aborting call", "message_id", env.MessageID)
			cancel()
		}

	case rpc.EnvelopeFunction:
		callCtx := w.track(ctx, env.MessageID)
		switch env.FunctionName {
		case rpc.FuncConnect:
			w.connect(callCtx, env)
		case rpc.FuncPublish:
			w.publish(callCtx, env)
		case rpc.FuncDisconnect:
			w.disconnect(callCtx, env)
		case rpc.FuncPeers:
			w.peers(callCtx, env)
		default:
			w.respond(env, nil, fmt.Errorf("%w: %q", syncerr.ErrUnknownFunction, env.FunctionName))
		}

	default:
		w.logger.Debug("ignoring envelope", "type", env.EnvelopeType)
	}
}

// track derives a cancellable context for a call so an abort can reach it.
func (w *Worker) track(ctx context.Context, id uint64) context.Context {
	callCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.inflight[id] = cancel
	w.mu.Unlock()
	return callCtx
}

func (w *Worker) untrack(id uint64) {
	w.mu.Lock()
	cancel, ok := w.inflight[id]
	delete(w.inflight, id)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *Worker) connect(ctx context.Context, env rpc.Envelope) {
	topicName, err := argString(env.Args, 0)
	if err != nil {
		w.respond(env, nil, err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		link, err := w.dialer.Dial(ctx)
		if err != nil {
			w.respond(env, nil, fmt.Errorf("dial broker: %w", err))
			return
		}

		welcome, err := handshake(ctx, link, topicName)
		if err != nil {
			link.Close()
			w.respond(env, nil, fmt.Errorf("subscribe %s: %w", topicName, err))
			return
		}

		s := newSession(welcome.PeerID, topicName, link, welcome.Peers)
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			link.Close()
			return
		}
		w.sessions[s.peerID] = s
		w.mu.Unlock()

		w.logger.Info("session opened", "topic", topicName, "peer", s.peerID, "peers", len(welcome.Peers))

		// The response goes out before any event of this session.
		w.respond(env, rpc.ConnectResult{PeerID: s.peerID, Peers: s.roster()}, nil)

		w.wg.Add(1)
		go w.readLoop(s)
	}()
}

func (w *Worker) publish(ctx context.Context, env rpc.Envelope) {
	s, err := w.sessionArg(env.Args)
	if err != nil {
		w.respond(env, nil, err)
		return
	}
	payload, err := argBytes(env.Args, 1)
	if err != nil {
		w.respond(env, nil, err)
		return
	}
	qos, err := argQoS(env.Args, 2)
	if err != nil {
		w.respond(env, nil, err)
		return
	}
	retain, err := argBool(env.Args, 3)
	if err != nil {
		w.respond(env, nil, err)
		return
	}

	// Queued here, on the Run goroutine, so publishes keep their order.
	ack, err := s.publish(ctx, payload, qos, retain)
	if err != nil || ack == nil {
		w.respond(env, nil, err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case err := <-ack:
			w.respond(env, nil, err)
		case <-ctx.Done():
			w.respond(env, nil, ctx.Err())
		}
	}()
}

func (w *Worker) disconnect(ctx context.Context, env rpc.Envelope) {
	peerID, err := argString(env.Args, 0)
	if err != nil {
		w.respond(env, nil, err)
		return
	}

	// Teardown is idempotent: an unknown peer is already gone.
	if s := w.removeSession(peerID); s != nil {
		s.close()
		w.logger.Info("session closed", "topic", s.topic, "peer", peerID)
	}
	w.respond(env, nil, nil)
}

func (w *Worker) peers(ctx context.Context, env rpc.Envelope) {
	s, err := w.sessionArg(env.Args)
	if err != nil {
		w.respond(env, nil, err)
		return
	}
	w.respond(env, s.roster(), nil)
}

func (w *Worker) sessionArg(args []any) (*session, error) {
	peerID, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	s, ok := w.sessions[peerID]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncerr.ErrUnknownPeer, peerID)
	}
	return s, nil
}

func (w *Worker) removeSession(peerID string) *session {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[peerID]
	if !ok {
		return nil
	}
	delete(w.sessions, peerID)
	return s
}

// readLoop turns broker frames into events until the link closes.
func (w *Worker) readLoop(s *session) {
	defer w.wg.Done()

	for f := range s.link.Incoming() {
		switch f.Type {
		case wire.TypeMessage:
			w.emit(rpc.EventMessage, s.peerID, append([]byte(nil), f.Payload...))

		case wire.TypePeers:
			s.setPeers(f.Peers)
			w.emit(rpc.EventPeersUpdate, s.peerID, s.roster())

		case wire.TypeAck:
			if !s.resolve(f.ID, nil) {
				w.logger.Debug("ack for unknown publish", "peer", s.peerID, "id", f.ID)
			}

		case wire.TypeError:
			if !s.resolve(f.ID, errors.New(f.Error)) {
				w.logger.Warn("broker error", "peer", s.peerID, "error", f.Error)
			}

		default:
			w.logger.Debug("ignoring frame", "type", f.Type, "peer", s.peerID)
		}
	}

	// Only a session that was not torn down on request reports a close.
	if w.removeSession(s.peerID) != nil {
		s.close()
		w.logger.Info("session lost", "topic", s.topic, "peer", s.peerID)
		w.emit(rpc.EventClose, s.peerID, nil)
	}
}

func (w *Worker) respond(req rpc.Envelope, result any, err error) {
	defer w.untrack(req.MessageID)

	resp := rpc.Envelope{
		EnvelopeType: rpc.EnvelopeFunction,
		FunctionName: req.FunctionName,
		MessageID:    req.MessageID,
		Success:      err == nil,
		Result:       result,
	}
	if err != nil {
		resp.Error = err.Error()
		w.logger.Debug("call failed", "function", req.FunctionName, "message_id", req.MessageID, "error", err)
	}
	w.send(resp)
}

func (w *Worker) emit(name, peerID string, data any) {
	w.send(rpc.Envelope{EnvelopeType: rpc.EnvelopeEvent, EventName: name, PeerID: peerID, EventData: data})
}

func (w *Worker) send(env rpc.Envelope) {
	select {
	case w.outbox <- env:
	case <-w.done:
	}
}

func (w *Worker) closeAll() {
	w.mu.Lock()
	w.stopped = true
	sessions := w.sessions
	w.sessions = make(map[string]*session)
	for id, cancel := range w.inflight {
		cancel()
		delete(w.inflight, id)
	}
	w.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
