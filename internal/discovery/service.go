package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultPort is the UDP port discovery binds to when the caller does not
// override it.
const DefaultPort = 8888

// broadcastInterval is how often a running Service re-announces itself.
const broadcastInterval = 5 * time.Second

// eventBacklog bounds the Service's internal event channel; a slow
// consumer causes PeerFound events to be dropped, never blocks the
// receive loop.
const eventBacklog = 64

// PeerFound is emitted whenever a non-self discovery message is observed,
// whether it was a request we are replying to or a response to our own
// broadcast.
type PeerFound struct {
	EndpointID   string
	DisplayName  string
	Addr         string
	TransferPort int
}

// Service owns one UDP socket used for both broadcasting discovery
// requests and answering/observing them.
type Service struct {
	conn         *net.UDPConn
	selfID       string
	selfName     string
	transferPort int
	broadcast    *net.UDPAddr

	events chan PeerFound
	scan   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	log *slog.Logger
}

// NewService binds a UDP socket on 0.0.0.0:port (DefaultPort if port is 0)
// with broadcast transmission enabled.
func NewService(selfID, selfName string, transferPort, port int) (*Service, error) {
	if port == 0 {
		port = DefaultPort
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("discovery: binding udp port %d: %w", port, err)
	}
	rc, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: accessing raw socket: %w", err)
	}
	if err := enableBroadcast(rc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: enabling broadcast: %w", err)
	}

	return &Service{
		conn:         conn,
		selfID:       selfID,
		selfName:     selfName,
		transferPort: transferPort,
		broadcast:    &net.UDPAddr{IP: net.IPv4bcast, Port: port},
		events:       make(chan PeerFound, eventBacklog),
		scan:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		log:          slog.Default().With("component", "discovery"),
	}, nil
}

// Events returns the channel PeerFound notifications arrive on.
func (s *Service) Events() <-chan PeerFound { return s.events }

// Start begins the periodic broadcast loop and the receive loop. It
// returns immediately; call Close to stop both.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.broadcastLoop()
	go s.receiveLoop()
}

// Scan requests an immediate out-of-cycle broadcast; it never blocks.
func (s *Service) Scan() {
	select {
	case s.scan <- struct{}{}:
	default:
	}
}

// Close stops both loops and releases the socket.
func (s *Service) Close() error {
	close(s.stop)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *Service) broadcastLoop() {
	defer s.wg.Done()

	s.announce()

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.announce()
		case <-s.scan:
			s.announce()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) announce() {
	msg := Message{
		Kind:         KindRequest,
		EndpointID:   s.selfID,
		DisplayName:  s.selfName,
		TransferPort: s.transferPort,
	}
	data, err := Encode(msg)
	if err != nil {
		s.log.Warn("encoding discovery request", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, s.broadcast); err != nil {
		s.log.Warn("broadcasting discovery request", "error", err)
	}
}

func (s *Service) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Warn("reading discovery datagram", "error", err)
				return
			}
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			// Unrelated broadcast traffic on this port - never fatal.
			continue
		}
		if msg.EndpointID == s.selfID {
			continue
		}

		s.emit(PeerFound{
			EndpointID:   msg.EndpointID,
			DisplayName:  msg.DisplayName,
			Addr:         addr.IP.String(),
			TransferPort: msg.TransferPort,
		})

		if msg.Kind == KindRequest {
			s.reply(addr)
		}
	}
}

func (s *Service) reply(to *net.UDPAddr) {
	data, err := Encode(Message{
		Kind:         KindResponse,
		EndpointID:   s.selfID,
		DisplayName:  s.selfName,
		TransferPort: s.transferPort,
	})
	if err != nil {
		s.log.Warn("encoding discovery response", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, to); err != nil {
		s.log.Warn("replying to discovery request", "peer", to.String(), "error", err)
	}
}

func (s *Service) emit(p PeerFound) {
	select {
	case s.events <- p:
	default:
		s.log.Debug("dropping peer-found event under back-pressure", "endpoint_id", p.EndpointID)
	}
}
