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
	"github.com/opd-ai/wavelink/jitter"
	"github.com/opd-ai/wavelink/observe"
	"github.com/opd-ai/wavelink/transport"
	"github.com/opd-ai/wavelink/wire"
)

// recvPollTimeout bounds each socket read so the receive loop can check
// cancellation and peer liveness between datagrams.
const recvPollTimeout = 250 * time.Millisecond

// ReceiverStats is a point-in-time snapshot of the receive side's
// counters.
type ReceiverStats struct {
	// Datagrams counts every datagram accepted from the socket.
	Datagrams uint64
	// Frames counts decoded audio frames offered to the jitter buffer.
	Frames uint64
	// Keepalives counts keepalive datagrams received.
	Keepalives uint64
	// DecodeErrors counts malformed datagrams that were discarded.
	DecodeErrors uint64
	// Played counts real frames written to the playback device.
	Played uint64
	// Concealed counts silence chunks substituted for lost frames.
	Concealed uint64
	// IdleChunks counts silence played while priming or paused.
	IdleChunks uint64
	// WriteErrors counts transient playback faults that were skipped.
	WriteErrors uint64
	// TapErrors counts failed writes to the playback tap.
	TapErrors uint64
}

// Receiver accepts one peer's audio stream and plays it on a local
// device, absorbing jitter and concealing losses.
//
// Create one with NewReceiver and drive it with Run. A Receiver is
// single-use: once Run returns, its socket and device stream are closed.
type Receiver struct {
	cfg      audio.StreamConfig
	codec    *wire.Codec
	sock     *transport.Socket
	stream   device.Stream
	buf      *jitter.Buffer
	tap      PlaybackTap
	metrics  *observe.Metrics
	log      *logrus.Entry
	timeout  time.Duration
	statsTck time.Duration

	mu          sync.Mutex
	started     time.Time
	lastArrival time.Time
	lastJitter  jitter.Stats
	stats       ReceiverStats

	closeOnce sync.Once
}

// NewReceiver creates a receive session: it binds the listen address,
// opens the playback device, and sizes the jitter buffer from the stream
// shape and playout delay. The returned Receiver holds the device and
// socket until Run returns or Close is called.
func NewReceiver(opts *Options) (*Receiver, error) {
	if opts == nil {
		return nil, ErrNilOptions
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ListenAddr == "" {
		return nil, ErrNoListenAddr
	}

	codec, err := wire.NewCodec(opts.Config)
	if err != nil {
		return nil, err
	}
	buf, err := jitter.New(jitter.Config{
		Interval:   opts.Config.FrameInterval(),
		Delay:      opts.PlayoutDelay,
		ChunkBytes: opts.Config.BytesPerChunk(),
		Clock:      opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	sock, err := transport.Listen(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind listen address: %w", err)
	}
	stream, err := opts.Devices.Open(device.Playback, opts.Config)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "receiver",
		"listen":    sock.LocalAddr().String(),
	})
	log.WithFields(logrus.Fields{
		"sample_rate":   opts.Config.SampleRate,
		"channels":      opts.Config.Channels,
		"format":        opts.Config.Format.String(),
		"chunk_frames":  opts.Config.ChunkFrames,
		"playout_delay": opts.PlayoutDelay,
	}).Info("Receiver session created")

	return &Receiver{
		cfg:      opts.Config,
		codec:    codec,
		sock:     sock,
		stream:   stream,
		buf:      buf,
		tap:      opts.Tap,
		metrics:  opts.metrics(),
		log:      log,
		timeout:  opts.peerTimeout(),
		statsTck: opts.StatsInterval,
	}, nil
}

// LocalAddr reports the bound listen address, useful when the options
// requested an ephemeral port.
func (r *Receiver) LocalAddr() net.Addr {
	return r.sock.LocalAddr()
}

// Run receives and plays until ctx is canceled or a fatal fault occurs.
// Peer silence longer than the configured timeout returns an error
// wrapping transport.ErrPeerTimeout. The device and socket are released
// on every return path.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.Close()

	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.recvLoop(ctx) })
	g.Go(func() error { return r.playbackLoop(ctx) })
	if r.statsTck > 0 {
		g.Go(func() error { return r.statsLoop(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		r.log.Info("Receiver session finished")
		return nil
	}
	if err != nil {
		r.log.WithError(err).Error("Receiver session failed")
	}
	return err
}

// recvLoop drains the socket, enforcing the peer timeout and feeding
// decoded frames to the jitter buffer. Malformed datagrams are counted
// and skipped so one bad sender packet cannot end the session.
func (r *Receiver) recvLoop(ctx context.Context) error {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if silent := time.Since(r.lastLife()); silent > r.timeout {
			r.log.WithField("silent", silent.Round(time.Millisecond)).Error("Peer stopped sending")
			return fmt.Errorf("no datagrams for %v: %w", r.timeout, transport.ErrPeerTimeout)
		}

		n, _, err := r.sock.Recv(buf, recvPollTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrRecvTimeout) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.log.WithError(err).Warn("Socket receive failed")
			continue
		}
		r.count(func(st *ReceiverStats) { st.Datagrams++ })

		frame, err := r.codec.Decode(buf[:n])
		if err != nil {
			r.count(func(st *ReceiverStats) { st.DecodeErrors++ })
			r.metrics.DecodeErrors.Add(ctx, 1)
			r.log.WithError(err).WithField("bytes", n).Debug("Discarded malformed datagram")
			continue
		}
		if frame.Keepalive() {
			r.count(func(st *ReceiverStats) { st.Keepalives++ })
			continue
		}

		r.observeArrival(ctx, time.Now())
		r.count(func(st *ReceiverStats) { st.Frames++ })
		r.metrics.FramesReceived.Add(ctx, 1)
		r.buf.Insert(frame)
	}
}

// playbackLoop pulls one chunk per device period and writes it to the
// playback stream. The device's own pacing sets the cadence; the jitter
// buffer decides between real audio, concealment, and idle silence.
func (r *Receiver) playbackLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p := r.buf.Pull()
		switch p.Kind {
		case jitter.PullFrame:
			r.count(func(st *ReceiverStats) { st.Played++ })
		case jitter.PullConcealed:
			r.count(func(st *ReceiverStats) { st.Concealed++ })
			r.metrics.FramesConcealed.Add(ctx, 1)
		case jitter.PullIdle:
			r.count(func(st *ReceiverStats) { st.IdleChunks++ })
		}

		if r.tap != nil {
			if err := r.tap.Write(p.PCM); err != nil {
				r.count(func(st *ReceiverStats) { st.TapErrors++ })
				r.log.WithError(err).Warn("Playback tap write failed")
			}
		}

		if err := r.stream.Write(p.PCM); err != nil {
			if errors.Is(err, device.ErrStreamClosed) || errors.Is(err, device.ErrDeviceGone) {
				return fmt.Errorf("playback device lost: %w", err)
			}
			r.count(func(st *ReceiverStats) { st.WriteErrors++ })
			r.log.WithError(err).Warn("Playback write failed, skipping chunk")
		}
	}
}

// statsLoop periodically logs session counters and reconciles jitter
// buffer statistics into the metric instruments.
func (r *Receiver) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.statsTck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := r.Stats()
			js := r.buf.Stats()
			r.log.WithFields(logrus.Fields{
				"datagrams":     st.Datagrams,
				"frames":        st.Frames,
				"played":        st.Played,
				"concealed":     st.Concealed,
				"decode_errors": st.DecodeErrors,
				"depth":         js.Depth,
				"late":          js.Stale + js.LatePurged,
				"far_future":    js.FarFuture,
				"resyncs":       js.Resyncs,
			}).Info("Receiver session stats")

			r.mu.Lock()
			last := r.lastJitter
			r.lastJitter = js
			r.mu.Unlock()

			late := (js.Stale + js.LatePurged + js.Evicted) - (last.Stale + last.LatePurged + last.Evicted)
			if late > 0 {
				r.metrics.FramesLate.Add(ctx, int64(late))
			}
			r.metrics.JitterDepth.Add(ctx, int64(js.Depth)-int64(last.Depth))
		}
	}
}

// Stats returns a snapshot of the session counters.
func (r *Receiver) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// BufferStats returns a snapshot of the jitter buffer's counters.
func (r *Receiver) BufferStats() jitter.Stats {
	return r.buf.Stats()
}

// Close releases the playback device and socket. It is safe to call
// more than once; Run calls it on every return path.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.stream.Close()
		r.sock.Close()
		r.log.Info("Receiver session closed")
	})
	return nil
}

// lastLife reports the most recent proof the peer exists: the last
// datagram's arrival, or the session start before anything has arrived.
func (r *Receiver) lastLife() time.Time {
	if t := r.sock.LastReceipt(); !t.IsZero() {
		return t
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// observeArrival records the inter-arrival gap between consecutive
// audio frames.
func (r *Receiver) observeArrival(ctx context.Context, now time.Time) {
	r.mu.Lock()
	prev := r.lastArrival
	r.lastArrival = now
	r.mu.Unlock()

	if !prev.IsZero() {
		r.metrics.TransitGap.Record(ctx, now.Sub(prev).Seconds())
	}
}

// count applies a mutation to the stats under the session lock.
func (r *Receiver) count(fn func(*ReceiverStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}
