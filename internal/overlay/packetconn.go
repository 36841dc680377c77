package overlay

import "net"

// peerAddr is a synthetic net.Addr standing in for an ICE peer: a
// negotiated pion ice.Conn is already addressed to exactly one remote, so
// there is nothing for a real address to disambiguate.
type peerAddr struct{ label string }

func (a peerAddr) Network() string { return "ice" }
func (a peerAddr) String() string  { return a.label }

// packetConn adapts one already-connected net.Conn (the result of ICE
// connectivity checks) into the net.PacketConn quic-go's Transport expects.
// quic-go's WAN-facing Transport only ever talks to this single peer, so
// every inbound read and outbound write is addressed to the same synthetic
// remote.
type packetConn struct {
	net.Conn
	remote net.Addr
}

func newPacketConn(conn net.Conn, label string) *packetConn {
	return &packetConn{Conn: conn, remote: peerAddr{label: label}}
}

func (p *packetConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := p.Read(b)
	return n, p.remote, err
}

func (p *packetConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	return p.Write(b)
}
