package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// echoPollInterval bounds how long Run waits between shutdown checks.
const echoPollInterval = 250 * time.Millisecond

// EchoServer reflects every datagram back to its source unchanged. Pointing
// a sender at it yields a round trip through the real network stack, which
// makes it a link and latency test peer.
type EchoServer struct {
	sock *Socket
	log  *logrus.Entry

	mu        sync.Mutex
	reflected uint64
}

// NewEchoServer binds the reflector on the given address.
func NewEchoServer(bind string) (*EchoServer, error) {
	sock, err := Listen(bind)
	if err != nil {
		return nil, err
	}

	return &EchoServer{
		sock: sock,
		log: logrus.WithFields(logrus.Fields{
			"component": "echo",
			"local":     sock.LocalAddr().String(),
		}),
	}, nil
}

// LocalAddr returns the bound address.
func (e *EchoServer) LocalAddr() net.Addr {
	return e.sock.LocalAddr()
}

// Reflected returns how many datagrams have been sent back so far.
func (e *EchoServer) Reflected() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reflected
}

// Run reflects datagrams until ctx is canceled, then releases the socket.
// Reflect failures are logged and skipped; only socket loss ends the loop
// early.
func (e *EchoServer) Run(ctx context.Context) error {
	defer e.sock.Close()

	buf := make([]byte, MaxDatagramSize)
	e.log.Info("echo server listening")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("echo server stopped")
			return nil
		default:
		}

		n, addr, err := e.sock.Recv(buf, echoPollInterval)
		if err != nil {
			if errors.Is(err, ErrRecvTimeout) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				e.log.Info("echo server stopped")
				return nil
			}
			return err
		}

		if err := e.sock.SendTo(buf[:n], addr); err != nil {
			e.log.WithError(err).WithField("to", addr.String()).Warn("reflect failed")
			continue
		}

		e.mu.Lock()
		e.reflected++
		e.mu.Unlock()

		e.log.WithFields(logrus.Fields{
			"bytes": n,
			"from":  addr.String(),
		}).Debug("reflected datagram")
	}
}
