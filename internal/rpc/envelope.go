package rpc

import (
	"context"
	"fmt"
)

// EnvelopeType tags every message that crosses the worker boundary.
type EnvelopeType string

const (
	// EnvelopeFunction is a call to the worker, or the worker's response to one.
	EnvelopeFunction EnvelopeType = "function"

	// EnvelopeEvent is an unsolicited notification addressed by peer id.
	EnvelopeEvent EnvelopeType = "event"

	// EnvelopeAbort asks the worker to abandon an in-flight call.
	EnvelopeAbort EnvelopeType = "abort"
)

// Envelope is the single message shape exchanged with the worker. Which fields
// are set depends on EnvelopeType and direction.
type Envelope struct {
	EnvelopeType EnvelopeType `json:"envelopeType" msgpack:"envelopeType"`

	// Function calls and responses.
	FunctionName string `json:"functionName,omitempty" msgpack:"functionName,omitempty"`
	Args         []any  `json:"args,omitempty" msgpack:"args,omitempty"`
	MessageID    uint64 `json:"messageId,omitempty" msgpack:"messageId,omitempty"`
	Success      bool   `json:"success,omitempty" msgpack:"success,omitempty"`
	Result       any    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error        string `json:"error,omitempty" msgpack:"error,omitempty"`

	// Events.
	EventName string `json:"eventName,omitempty" msgpack:"eventName,omitempty"`
	PeerID    string `json:"peerId,omitempty" msgpack:"peerId,omitempty"`
	EventData any    `json:"eventData,omitempty" msgpack:"eventData,omitempty"`
}

// Worker function names.
const (
	FuncConnect    = "connect"
	FuncPublish    = "publish"
	FuncDisconnect = "disconnect"
	FuncPeers      = "peers"
)

// Worker event names.
const (
	EventPeersUpdate = "peersupdate"
	EventMessage     = "message"
	EventClose       = "close"
)

// ConnectResult is what a successful connect call resolves to.
type ConnectResult struct {
	PeerID string   `json:"peerId" msgpack:"peerId"`
	Peers  []string `json:"peers" msgpack:"peers"`
}

// Port is the bridge's view of the worker: an inbox it posts to and an
// outbox it drains.
type Port interface {
	Post(ctx context.Context, env Envelope) error
	Receive() <-chan Envelope
}

// EventRouter receives worker events addressed by peer id.
type EventRouter interface {
	RouteEvent(peerID, eventName string, data any)
}

// Caller issues a function call across the worker boundary.
type Caller interface {
	Call(ctx context.Context, functionName string, args ...any) (any, error)
}

// DecodeConnectResult accepts a ConnectResult as produced in-process or its
// generic map form after a JSON or msgpack hop.
func DecodeConnectResult(v any) (ConnectResult, error) {
	switch r := v.(type) {
	case ConnectResult:
		return r, nil
	case *ConnectResult:
		if r == nil {
			return ConnectResult{}, fmt.Errorf("nil connect result")
		}
		return *r, nil
	case map[string]any:
		peerID, _ := r["peerId"].(string)
		if peerID == "" {
			return ConnectResult{}, fmt.Errorf("connect result has no peer id")
		}
		peers, err := DecodePeers(r["peers"])
		if err != nil {
			return ConnectResult{}, err
		}
		return ConnectResult{PeerID: peerID, Peers: peers}, nil
	default:
		return ConnectResult{}, fmt.Errorf("unexpected connect result %T", v)
	}
}

// DecodePeers accepts a peer roster as []string or []any of strings.
func DecodePeers(v any) ([]string, error) {
	switch p := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return p, nil
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("peer id is %T, want string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected peer list %T", v)
	}
}
