// ABOUTME: WebSocket transport for the handshake protocol
// ABOUTME: Frames carry the hosting page origin alongside the raw message

package handshake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// inboundFrame is what the host bridge relays for each window message.
type inboundFrame struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// outboundFrame addresses a widget message at a target origin; the bridge
// enforces the target when re-posting into the hosting page.
type outboundFrame struct {
	Target  string          `json:"target"`
	Message json.RawMessage `json:"message"`
}

// WSConn adapts a WebSocket connection to the handshake transport.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an accepted WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes one outbound frame.
func (c *WSConn) Send(ctx context.Context, targetOrigin string, message json.RawMessage) error {
	data, err := json.Marshal(outboundFrame{Target: targetOrigin, Message: message})
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame blocks for the next inbound frame and returns the relayed
// origin and raw message.
func (c *WSConn) ReadFrame(ctx context.Context) (origin string, message json.RawMessage, err error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("reading frame: %w", err)
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("decoding frame: %w", err)
	}
	return frame.Origin, frame.Message, nil
}

// Close closes the underlying connection with a normal status.
func (c *WSConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
