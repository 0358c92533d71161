// Package transport wraps a WebSocket connection as a duplex byte-frame
// channel to a SaltyRTC signaling server. The signaling core never imports
// this package: cmd/saltyrtc-client reads a frame here, hands it to
// Signaling.HandleMessage, and writes back whatever frames come out.
package transport

import (
	"context"
	"fmt"
	"log/slog"

	"nhooyr.io/websocket"
)

// readLimit bounds a single inbound frame. SaltyRTC frames are small
// (nonce + one msgpack message); this is generous headroom.
const readLimit = 16 * 1024 * 1024

// Conn is one WebSocket connection to a signaling server.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dial connects to a SaltyRTC server at url (e.g.
// "wss://host:port/<initiator-public-key-hex>", per spec.md §6) and
// negotiates subprotocol.
func Dial(ctx context.Context, url string, subprotocol string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting", "url", url)
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if got := ws.Subprotocol(); got != subprotocol {
		ws.Close(websocket.StatusProtocolError, "subprotocol not negotiated")
		return nil, fmt.Errorf("server did not negotiate subprotocol %q (got %q)", subprotocol, got)
	}
	ws.SetReadLimit(readLimit)
	logger.Info("connected", "subprotocol", subprotocol)
	return &Conn{ws: ws, logger: logger}, nil
}

// Send writes one complete wire frame as a single binary WebSocket message.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive reads the next complete wire frame. Every SaltyRTC message is
// sent as exactly one binary WebSocket message, never split or batched.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	msgType, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	if msgType != websocket.MessageBinary {
		return nil, fmt.Errorf("unexpected websocket message type %v", msgType)
	}
	return data, nil
}

// Close closes the underlying connection with a normal closure code.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

// CloseError closes the connection with a protocol-error closure code,
// used when the signaling core rejects an inbound message outright.
func (c *Conn) CloseError(reason string) error {
	c.logger.Warn("closing connection", "reason", reason)
	return c.ws.Close(websocket.StatusProtocolError, reason)
}
