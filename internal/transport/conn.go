package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/roomsync/internal/dns"
	"github.com/BioHazard786/roomsync/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// ErrClosed is returned by Send once the connection is shut down.
var ErrClosed = errors.New("transport closed")

// Dialer opens websocket connections to the broker.
type Dialer struct {
	// URL is the broker websocket endpoint, e.g. wss://example.com/ws.
	URL string

	// HandshakeTimeout bounds the websocket handshake. Zero means 10s.
	HandshakeTimeout time.Duration
}

// Conn manages one websocket connection to the broker.
type Conn struct {
	conn      *websocket.Conn
	incoming  chan *wire.Frame
	outgoing  chan *wire.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes a websocket connection and starts its pumps.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	// Resolve through our DNS lookup so a broken system resolver still works.
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: timeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}

			resolvedIP, err := dns.Lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}

			var nd net.Dialer
			return nd.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
		},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return newConn(conn), nil
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		conn:     ws,
		incoming: make(chan *wire.Frame, 64),
		outgoing: make(chan *wire.Frame, 64),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c
}

// readPump reads frames from the websocket connection.
func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		frame, err := wire.Decode(data)
		if err != nil {
			continue
		}

		select {
		case c.incoming <- frame:
		case <-c.done:
			return
		}
	}
}

// writePump writes frames to the websocket connection and sends periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			data, err := wire.Encode(frame)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a frame for the writer.
func (c *Conn) Send(ctx context.Context, f *wire.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- f:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming returns the channel of frames read from the broker. It is closed
// when the connection ends.
func (c *Conn) Incoming() <-chan *wire.Frame {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
