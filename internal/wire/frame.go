package wire

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is the single message shape exchanged between a transport link and
// the broker. Every frame travels as one binary websocket message.
type Frame struct {
	Type    string   `msgpack:"type"`
	ID      uint64   `msgpack:"id,omitempty"`
	Topic   string   `msgpack:"topic,omitempty"`
	PeerID  string   `msgpack:"peer_id,omitempty"`
	From    string   `msgpack:"from,omitempty"`
	Payload []byte   `msgpack:"payload,omitempty"`
	QoS     uint8    `msgpack:"qos,omitempty"`
	Retain  bool     `msgpack:"retain,omitempty"`
	Peers   []string `msgpack:"peers,omitempty"`
	Error   string   `msgpack:"error,omitempty"`
}

// Frame type constants.
const (
	// Client to broker
	TypeSubscribe = "subscribe"
	TypePublish   = "publish"

	// Broker to client
	TypeWelcome = "welcome"
	TypeMessage = "message"
	TypePeers   = "peers"
	TypeAck     = "ack"
	TypeError   = "error"
)

// Delivery guarantees a publish may request.
const (
	AtMostOnce  uint8 = 0
	AtLeastOnce uint8 = 1
	ExactlyOnce uint8 = 2
)

// Encode serializes a frame.
func Encode(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Marshal encodes v deterministically: map keys are sorted and integers use
// their most compact form, so equal values always produce equal bytes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	enc.UseCompactFloats(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
