package overlay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/long113112113/p2p-transfer/internal/transport"
)

// Manager is the only Endpoint implementation in this codebase: Connect
// dials a peer's long-lived Endpoint ID, Accept waits for someone to dial
// ours. Both sides negotiate their own ICE session and signaling client per
// call; nothing is kept listening between sessions.
type Manager struct {
	localID   string
	tlsServer *tls.Config
	tlsClient *tls.Config
}

// NewManager prepares a Manager for localID. The self-signed server
// certificate is generated once and reused for every inbound session,
// mirroring the LAN transport's per-process (not per-connection) identity.
func NewManager(localID string) (*Manager, error) {
	server, err := transport.ServerTLSConfig(ALPN)
	if err != nil {
		return nil, fmt.Errorf("overlay: generating server tls config: %w", err)
	}
	return &Manager{
		localID:   localID,
		tlsServer: server,
		tlsClient: transport.ClientTLSConfig(ALPN),
	}, nil
}

// Connect dials peerID: it is the ICE controlling agent and publishes the
// offer onto peerID's own signaling topic.
func (m *Manager) Connect(ctx context.Context, peerID string) (Connection, error) {
	raw, err := m.establish(ctx, peerID, true)
	if err != nil {
		return nil, err
	}
	pc := newPacketConn(raw, peerID)

	qt := &quic.Transport{Conn: pc}
	qconn, err := qt.Dial(ctx, peerAddr{label: peerID}, m.tlsClient, transport.WANConfig())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("overlay: quic dial over hole-punched path: %w", err)
	}
	return &quicConnection{conn: qconn}, nil
}

// Accept waits on our own signaling topic for someone to dial us, then
// answers. Only one inbound session at a time is served per Manager; a
// caller wanting concurrent inbound sessions runs multiple Managers.
func (m *Manager) Accept(ctx context.Context) (Connection, error) {
	raw, err := m.establish(ctx, "", false)
	if err != nil {
		return nil, err
	}
	pc := newPacketConn(raw, "peer")

	qt := &quic.Transport{Conn: pc}
	ln, err := qt.Listen(m.tlsServer, transport.WANConfig())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("overlay: quic listen over hole-punched path: %w", err)
	}
	qconn, err := ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: quic accept over hole-punched path: %w", err)
	}
	return &quicConnection{conn: qconn}, nil
}

func (m *Manager) Close() error {
	return nil
}

// establish negotiates one ICE session over a freshly dialed signaling
// client and returns the resulting net.Conn. controlling picks the topic:
// the connecting side always publishes into the peer's own topic, the
// accepting side always listens on its own.
func (m *Manager) establish(ctx context.Context, peerID string, controlling bool) (net.Conn, error) {
	topicOwner := m.localID
	if controlling {
		topicOwner = peerID
	}

	sig, err := dialSignaling(ctx, "p2p-transfer-"+m.localID)
	if err != nil {
		return nil, err
	}
	defer sig.disconnect()

	agent, err := newICEAgent()
	if err != nil {
		return nil, err
	}

	conn, err := negotiate(ctx, agent, sig, signalTopic(topicOwner), controlling)
	if err != nil {
		_ = agent.Close()
		return nil, err
	}
	return conn, nil
}
