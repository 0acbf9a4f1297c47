package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/roomsync/internal/syncerr"
)

// abortPostTimeout bounds the best-effort abort notification.
const abortPostTimeout = time.Second

// Bridge correlates calls to the worker with their responses and routes the
// worker's events to an EventRouter.
//
// Aborting a call only abandons the local wait. The worker is told about it,
// but may still finish the operation; its late response is dropped.
type Bridge struct {
	port   Port
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Envelope

	// stopped is closed when Serve returns; calls still waiting then fail.
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewBridge creates a bridge over port. Serve must be running for calls to
// complete.
func NewBridge(port Port) *Bridge {
	return &Bridge{
		port:    port,
		logger:  slog.Default().With("component", "bridge"),
		pending: make(map[uint64]chan Envelope),
		stopped: make(chan struct{}),
	}
}

// Call posts a function envelope and waits for the matching response. If ctx
// ends first the call is aborted: the worker is notified best-effort and the
// returned error matches syncerr.ErrAborted.
func (b *Bridge) Call(ctx context.Context, functionName string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", syncerr.ErrAborted, functionName, err)
	}
	select {
	case <-b.stopped:
		return nil, syncerr.NewError("call "+functionName, syncerr.ErrWorkerStopped)
	default:
	}

	reply := make(chan Envelope, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.pending[id] = reply
	b.mu.Unlock()

	err := b.port.Post(ctx, Envelope{
		EnvelopeType: EnvelopeFunction,
		FunctionName: functionName,
		Args:         args,
		MessageID:    id,
	})
	if err != nil {
		b.take(id)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", syncerr.ErrAborted, functionName, ctx.Err())
		}
		return nil, syncerr.NewError("post "+functionName, err)
	}

	select {
	case resp := <-reply:
		return settle(functionName, resp)

	case <-ctx.Done():
		if _, ok := b.take(id); !ok {
			// The response won the race; the dispatcher already removed the entry.
			return settle(functionName, <-reply)
		}
		b.abort(id)
		return nil, fmt.Errorf("%w: %s: %w", syncerr.ErrAborted, functionName, ctx.Err())

	case <-b.stopped:
		if _, ok := b.take(id); !ok {
			return settle(functionName, <-reply)
		}
		return nil, syncerr.NewError("call "+functionName, syncerr.ErrWorkerStopped)
	}
}

func settle(functionName string, resp Envelope) (any, error) {
	if !resp.Success {
		return nil, &syncerr.RemoteError{Function: functionName, Message: resp.Error}
	}
	return resp.Result, nil
}

// take removes and returns the pending entry for id. Exactly one caller ever
// gets ok == true for a given id.
func (b *Bridge) take(id uint64) (chan Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return ch, ok
}

func (b *Bridge) abort(id uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), abortPostTimeout)
	defer cancel()
	if err := b.port.Post(ctx, Envelope{EnvelopeType: EnvelopeAbort, MessageID: id}); err != nil {
		b.logger.Debug("abort notification not delivered", "message_id", id, "error", err)
	}
}

// Pending reports how many calls are awaiting a response.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Serve drains the worker's outbox until ctx ends or the outbox closes.
// Responses settle pending calls; events go to router. Once Serve returns,
// pending and later calls fail with syncerr.ErrWorkerStopped.
func (b *Bridge) Serve(ctx context.Context, router EventRouter) error {
	defer b.stopOnce.Do(func() { close(b.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-b.port.Receive():
			if !ok {
				return syncerr.ErrWorkerStopped
			}
			b.dispatch(env, router)
		}
	}
}

func (b *Bridge) dispatch(env Envelope, router EventRouter) {
	switch env.EnvelopeType {
	case EnvelopeFunction:
		reply, ok := b.take(env.MessageID)
		if !ok {
			b.logger.Debug("dropping response for unknown message id", "message_id", env.MessageID, "function", env.FunctionName)
			return
		}
		reply <- env

	case EnvelopeEvent:
		if router == nil {
			return
		}
		router.RouteEvent(env.PeerID, env.EventName, DecodeEventData(env.EventData))

	default:
		b.logger.Debug("dropping envelope with unknown type", "type", env.EnvelopeType)
	}
}
