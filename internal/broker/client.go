package broker

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/roomsync/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	MaxMessageSize = 512 * 1024 // snapshots of saved lists stay well under this

	// SendBuffer is the per-client outbound queue length.
	SendBuffer = 256
)

// Client is a wrapper for a single websocket connection (one room session of a device).
type Client struct {
	// Hub is the hub that manages this client.
	Hub *Hub

	// Conn is the websocket connection. Nil for in-process clients.
	Conn *websocket.Conn

	// PeerID is assigned by the server when the connection is accepted.
	PeerID string

	// Topic is the room the client subscribed to. Owned by the hub goroutine.
	Topic string

	// Send is a buffered channel for all outbound frames.
	// The hub writes to this channel and WritePump drains it to the websocket.
	Send chan *wire.Frame
}

// NewClient creates a client bound to hub. conn may be nil in tests.
func NewClient(hub *Hub, conn *websocket.Conn, peerID string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		PeerID: peerID,
		Send:   make(chan *wire.Frame, SendBuffer),
	}
}

func (c *Client) remoteAddr() string {
	if c.Conn == nil {
		return "local"
	}
	return c.Conn.RemoteAddr().String()
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("broker read failed", "peer", c.PeerID, "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			slog.Debug("broker ignoring non-binary message", "peer", c.PeerID)
			continue
		}

		frame, err := wire.Decode(data)
		if err != nil {
			slog.Debug("broker dropping undecodable frame", "peer", c.PeerID, "error", err)
			continue
		}

		if !c.Hub.submit(c, frame) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := wire.Encode(frame)
			if err != nil {
				slog.Error("broker failed to encode frame", "peer", c.PeerID, "error", err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				slog.Debug("broker write failed", "peer", c.PeerID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
