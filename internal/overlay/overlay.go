// Package overlay is the WAN transport: a relay-assisted, hole-punched
// connection between two long-lived Endpoint IDs, realized over ICE
// (github.com/pion/ice/v2) for NAT traversal, AWS IoT Core MQTT for
// signaling, and QUIC (reusing internal/transport's tuning) for the actual
// stream semantics once a path is established.
//
// Unlike the LAN transport, there is no listening UDP socket to speak of:
// every session negotiates its own hole-punched net.Conn, which is then
// wrapped as a one-peer net.PacketConn to back a fresh quic.Transport.
package overlay

import (
	"context"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

// ALPN identifies the WAN overlay at the TLS handshake, distinct from the
// LAN transport's transport.ALPN so a dual-stack endpoint can tell the two
// apart if it ever listens on both at once.
const ALPN = "doanltm-p2p"

// Stream is a bidirectional byte stream, satisfied structurally by both a
// *quic.Stream here and the LAN transport's QUIC streams, so
// internal/transfer and internal/pairing never need to know which overlay
// carried them.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Connection is one established session with a peer, identified only by
// however the caller resolved its Endpoint ID to reach Connect in the
// first place.
type Connection interface {
	OpenBi(ctx context.Context) (Stream, error)
	OpenUni(ctx context.Context) (io.WriteCloser, error)
	AcceptBi(ctx context.Context) (Stream, error)
	AcceptUni(ctx context.Context) (io.Reader, error)
	Close() error
}

// Endpoint is the capability the rest of the system needs from the WAN
// overlay: accept whoever dials our Endpoint ID, or connect to someone
// else's.
type Endpoint interface {
	Accept(ctx context.Context) (Connection, error)
	Connect(ctx context.Context, peerID string) (Connection, error)
	Close() error
}

// quicConnection adapts a *quic.Conn to Connection.
type quicConnection struct {
	conn *quic.Conn
}

func (c *quicConnection) OpenBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening bidirectional stream: %w", err)
	}
	return s, nil
}

func (c *quicConnection) OpenUni(ctx context.Context) (io.WriteCloser, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening unidirectional stream: %w", err)
	}
	return s, nil
}

func (c *quicConnection) AcceptBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: accepting bidirectional stream: %w", err)
	}
	return s, nil
}

func (c *quicConnection) AcceptUni(ctx context.Context) (io.Reader, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: accepting unidirectional stream: %w", err)
	}
	return s, nil
}

func (c *quicConnection) Close() error {
	return c.conn.CloseWithError(0, "closing")
}
