package wavelink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/wavelink/audio"
	"github.com/opd-ai/wavelink/device"
	"github.com/opd-ai/wavelink/observe"
	"github.com/opd-ai/wavelink/transport"
	"github.com/opd-ai/wavelink/wire"
)

// errSessionDone stops a session's loops after a configured duration.
var errSessionDone = errors.New("session duration elapsed")

// SenderStats is a point-in-time snapshot of the send side's counters.
type SenderStats struct {
	// Captured counts chunks read from the capture device.
	Captured uint64
	// Sent counts audio frames handed to the socket.
	Sent uint64
	// Keepalives counts keepalive datagrams sent during capture gaps.
	Keepalives uint64
	// HandoffDropped counts frames discarded because the send loop
	// fell behind capture.
	HandoffDropped uint64
	// ReadErrors counts transient capture faults that were skipped.
	ReadErrors uint64
	// SendErrors counts transient socket faults that were skipped.
	SendErrors uint64
}

// Sender captures audio from a local device and streams it to one peer.
//
// Create one with NewSender and drive it with Run. A Sender is
// single-use: once Run returns, its socket and device stream are closed.
type Sender struct {
	cfg      audio.StreamConfig
	codec    *wire.Codec
	sock     *transport.Socket
	stream   device.Stream
	metrics  *observe.Metrics
	log      *logrus.Entry
	duration time.Duration
	kaEvery  time.Duration
	statsTck time.Duration

	// handoff decouples the capture cadence from socket writes.
	// captureLoop is the only producer; sendLoop the only consumer.
	handoff chan wire.Frame

	mu    sync.Mutex
	seq   uint32
	stats SenderStats

	closeOnce sync.Once
}

// NewSender creates a sender session: it resolves the peer, opens the
// capture device, and prepares the wire codec. The returned Sender holds
// the device and socket until Run returns or Close is called.
func NewSender(opts *Options) (*Sender, error) {
	if opts == nil {
		return nil, ErrNilOptions
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.PeerAddr == "" {
		return nil, ErrNoPeerAddr
	}

	codec, err := wire.NewCodec(opts.Config)
	if err != nil {
		return nil, err
	}
	sock, err := transport.Dial(opts.PeerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach peer: %w", err)
	}
	stream, err := opts.Devices.Open(device.Capture, opts.Config)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "sender",
		"peer":      opts.PeerAddr,
	})
	log.WithFields(logrus.Fields{
		"sample_rate":  opts.Config.SampleRate,
		"channels":     opts.Config.Channels,
		"format":       opts.Config.Format.String(),
		"chunk_frames": opts.Config.ChunkFrames,
	}).Info("Sender session created")

	return &Sender{
		cfg:      opts.Config,
		codec:    codec,
		sock:     sock,
		stream:   stream,
		metrics:  opts.metrics(),
		log:      log,
		duration: opts.Duration,
		kaEvery:  opts.keepaliveInterval(),
		statsTck: opts.StatsInterval,
		handoff:  make(chan wire.Frame, opts.handoffDepth()),
	}, nil
}

// Run captures and transmits until ctx is canceled, the configured
// duration elapses, or a fatal fault occurs. It returns nil on a clean
// stop and always releases the device and socket before returning.
func (s *Sender) Run(ctx context.Context) error {
	defer s.Close()

	var deadline time.Time
	if s.duration > 0 {
		deadline = time.Now().Add(s.duration)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.captureLoop(ctx, deadline) })
	g.Go(func() error { return s.sendLoop(ctx) })
	g.Go(func() error { return s.keepaliveLoop(ctx) })
	if s.statsTck > 0 {
		g.Go(func() error { return s.statsLoop(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, errSessionDone) || errors.Is(err, context.Canceled) {
		s.log.Info("Sender session finished")
		return nil
	}
	if err != nil {
		s.log.WithError(err).Error("Sender session failed")
	}
	return err
}

// captureLoop reads chunks at the device's pace, assigns sequence
// numbers, and hands frames to the send loop.
func (s *Sender) captureLoop(ctx context.Context, deadline time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pcm, err := s.stream.Read(s.cfg.ChunkFrames)
		if err != nil {
			if errors.Is(err, device.ErrStreamClosed) || errors.Is(err, device.ErrDeviceGone) {
				return fmt.Errorf("capture device lost: %w", err)
			}
			s.log.WithError(err).Warn("Capture read failed, skipping chunk")
			s.count(func(st *SenderStats) { st.ReadErrors++ })
			// A failed read returns without the cadence a real chunk
			// imposes. Sit out the skipped chunk's interval so an
			// erroring device cannot spin this loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.FrameInterval()):
			}
			continue
		}

		frame := wire.Frame{Seq: s.nextSeq(), Captured: time.Now(), PCM: pcm}
		s.push(ctx, frame)
		s.count(func(st *SenderStats) { st.Captured++ })

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			s.log.WithField("duration", s.duration).Info("Configured duration reached")
			return errSessionDone
		}
	}
}

// push enqueues a frame, discarding the oldest queued frame when the
// send loop has fallen behind. Capture never blocks on the network.
func (s *Sender) push(ctx context.Context, f wire.Frame) {
	select {
	case s.handoff <- f:
		return
	default:
	}

	select {
	case old := <-s.handoff:
		s.count(func(st *SenderStats) { st.HandoffDropped++ })
		s.metrics.HandoffDrops.Add(ctx, 1)
		s.log.WithField("seq", old.Seq).Debug("Send queue full, dropped oldest frame")
	default:
	}

	// captureLoop is the only producer, so the slot freed above (or by
	// the consumer) cannot be taken by anyone else.
	select {
	case s.handoff <- f:
	default:
		s.count(func(st *SenderStats) { st.HandoffDropped++ })
		s.metrics.HandoffDrops.Add(ctx, 1)
	}
}

// sendLoop encodes queued frames and writes them to the socket.
func (s *Sender) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.handoff:
			data, err := s.codec.Encode(f)
			if err != nil {
				s.log.WithError(err).WithField("seq", f.Seq).Error("Frame encode failed")
				s.count(func(st *SenderStats) { st.SendErrors++ })
				continue
			}
			if err := s.sock.Send(data); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				s.log.WithError(err).WithField("seq", f.Seq).Warn("Datagram send failed")
				s.count(func(st *SenderStats) { st.SendErrors++ })
				continue
			}
			s.count(func(st *SenderStats) { st.Sent++ })
			s.metrics.FramesSent.Add(ctx, 1)
		}
	}
}

// keepaliveLoop advertises liveness while no audio is flowing, so the
// receiver's peer timeout only fires on real disconnection.
func (s *Sender) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.kaEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Since(s.sock.LastSend()) < s.kaEvery {
				continue
			}
			if err := s.sock.Send(s.codec.EncodeKeepalive(s.currentSeq())); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				s.log.WithError(err).Warn("Keepalive send failed")
				continue
			}
			s.count(func(st *SenderStats) { st.Keepalives++ })
		}
	}
}

// statsLoop periodically logs a snapshot of the session counters.
func (s *Sender) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.statsTck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := s.Stats()
			s.log.WithFields(logrus.Fields{
				"captured":   st.Captured,
				"sent":       st.Sent,
				"keepalives": st.Keepalives,
				"dropped":    st.HandoffDropped,
			}).Info("Sender session stats")
		}
	}
}

// Stats returns a snapshot of the session counters.
func (s *Sender) Stats() SenderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the capture device and socket. It is safe to call more
// than once; Run calls it on every return path.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.stream.Close()
		s.sock.Close()
		s.log.Info("Sender session closed")
	})
	return nil
}

// nextSeq returns the sequence number for the next captured frame.
func (s *Sender) nextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq
	s.seq++
	return seq
}

// currentSeq reports the most recently assigned sequence number.
func (s *Sender) currentSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return 0
	}
	return s.seq - 1
}

// count applies a mutation to the stats under the session lock.
func (s *Sender) count(fn func(*SenderStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}
