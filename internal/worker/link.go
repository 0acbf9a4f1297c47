package worker

import (
	"context"

	"github.com/BioHazard786/roomsync/internal/transport"
	"github.com/BioHazard786/roomsync/internal/wire"
)

// Link is one transport connection to the broker.
type Link interface {
	Send(ctx context.Context, f *wire.Frame) error
	Incoming() <-chan *wire.Frame
	Close()
}

// Dialer opens links. Every room session gets its own link.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Link, error)

func (f DialerFunc) Dial(ctx context.Context) (Link, error) {
	return f(ctx)
}

// WebsocketDialer dials the broker at url over websocket.
func WebsocketDialer(url string) Dialer {
	d := &transport.Dialer{URL: url}
	return DialerFunc(func(ctx context.Context) (Link, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
