// Package transport owns the UDP endpoints of a wavelink session.
//
// A Socket wraps a bound net.PacketConn with the bookkeeping the session
// layer needs: deadline-based receives that distinguish "nothing arrived"
// from real faults, and last-send/last-receipt stamps that drive keepalives
// and peer-timeout detection. EchoServer is the loopback responder role
// used for link testing.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxDatagramSize is the largest UDP payload deliverable over IPv4:
// 65535 minus 20 bytes of IP header and 8 of UDP header. Receive buffers
// of this size never truncate.
const MaxDatagramSize = 65507

// Transport errors.
var (
	// ErrRecvTimeout indicates no datagram arrived within the Recv
	// deadline. It is flow control, not a fault: callers poll again.
	ErrRecvTimeout = errors.New("receive timed out")

	// ErrPeerTimeout indicates the peer produced no datagram at all,
	// keepalives included, within the liveness window. It is fatal to
	// the session.
	ErrPeerTimeout = errors.New("peer timed out")

	// ErrNoPeer indicates Send was called on a socket constructed
	// without a fixed peer address.
	ErrNoPeer = errors.New("socket has no peer address")
)

// Socket is one bound UDP endpoint. The sending role fixes a peer address
// at construction; the receiving role answers whatever source the traffic
// arrives from. All methods are safe for concurrent use.
type Socket struct {
	conn net.PacketConn
	peer net.Addr

	mu       sync.RWMutex
	closed   bool
	lastSend time.Time
	lastRecv time.Time

	log *logrus.Entry
}

// Listen binds a UDP socket on the given address ("host:port", empty host
// for all interfaces) for the receiving role.
func Listen(bind string) (*Socket, error) {
	conn, err := net.ListenPacket("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", bind, err)
	}

	s := &Socket{
		conn: conn,
		log: logrus.WithFields(logrus.Fields{
			"component": "socket",
			"local":     conn.LocalAddr().String(),
		}),
	}
	s.log.Debug("socket bound")
	return s, nil
}

// Dial binds an ephemeral UDP socket and fixes the peer that every Send
// goes to. No packets are exchanged at construction; UDP has no handshake.
func Dial(peer string) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", peer, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("bind ephemeral: %w", err)
	}

	s := &Socket{
		conn: conn,
		peer: addr,
		log: logrus.WithFields(logrus.Fields{
			"component": "socket",
			"local":     conn.LocalAddr().String(),
			"peer":      addr.String(),
		}),
	}
	s.log.Debug("socket dialed")
	return s, nil
}

// Send transmits one datagram to the fixed peer.
func (s *Socket) Send(data []byte) error {
	s.mu.RLock()
	peer := s.peer
	s.mu.RUnlock()
	if peer == nil {
		return ErrNoPeer
	}
	return s.SendTo(data, peer)
}

// SendTo transmits one datagram to an explicit destination.
func (s *Socket) SendTo(data []byte, addr net.Addr) error {
	if _, err := s.conn.WriteTo(data, addr); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSend = time.Now()
	s.mu.Unlock()
	return nil
}

// Recv waits up to timeout for one datagram, filling buf. It returns the
// byte count and source address, ErrRecvTimeout when the deadline passes
// with nothing arriving, or the underlying error (net.ErrClosed after
// Close). A timeout of zero or less blocks indefinitely.
func (s *Socket) Recv(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil, fmt.Errorf("%w after %v", ErrRecvTimeout, timeout)
		}
		return 0, nil, err
	}

	s.mu.Lock()
	s.lastRecv = time.Now()
	s.mu.Unlock()
	return n, addr, nil
}

// LastSend returns when the most recent datagram was sent, zero if none.
func (s *Socket) LastSend() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSend
}

// LastReceipt returns when the most recent datagram arrived, zero if none.
// Every datagram counts, keepalives and undecodable garbage included:
// liveness is about the peer being there, not about payload validity.
func (s *Socket) LastReceipt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecv
}

// LocalAddr returns the bound address, useful after binding port 0.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Peer returns the fixed peer address, nil for listening sockets.
func (s *Socket) Peer() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

// Close releases the endpoint. Safe to call more than once; in-flight
// Recv calls return net.ErrClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Debug("socket closed")
	return s.conn.Close()
}
