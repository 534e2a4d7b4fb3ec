package wavelink

import (
	"errors"
	"time"

	"github.com/opd-ai/wavelink/audio"
	"github.com/opd-ai/wavelink/device"
	"github.com/opd-ai/wavelink/jitter"
	"github.com/opd-ai/wavelink/observe"
)

// Defaults applied by NewOptions. The CLI exposes each as a flag.
const (
	DefaultPlayoutDelay      = jitter.DefaultDelay
	DefaultPeerTimeout       = 5 * time.Second
	DefaultKeepaliveInterval = 1 * time.Second
	DefaultHandoffDepth      = 4
	DefaultStatsInterval     = 10 * time.Second
)

// Option validation errors.
var (
	// ErrNilOptions indicates a constructor received a nil Options.
	ErrNilOptions = errors.New("options cannot be nil")

	// ErrNoDevices indicates Options.Devices was not set.
	ErrNoDevices = errors.New("options require a device provider")

	// ErrNoPeerAddr indicates a sender was built without a peer address.
	ErrNoPeerAddr = errors.New("sender requires a peer address")

	// ErrNoListenAddr indicates a receiver was built without a bind address.
	ErrNoListenAddr = errors.New("receiver requires a listen address")
)

// PlaybackTap receives a copy of every chunk handed to the playback
// device, including concealment and idle silence. A record.Writer
// satisfies it.
type PlaybackTap interface {
	Write(pcm []byte) error
}

// Options configures a Sender or Receiver. Zero values fall back to the
// defaults where one exists; NewOptions pre-fills them all.
type Options struct {
	// Config is the stream shape. Both ends of a link must use the
	// same values.
	Config audio.StreamConfig

	// PeerAddr is the host:port a sender transmits to.
	PeerAddr string

	// ListenAddr is the address a receiver binds, typically ":port".
	ListenAddr string

	// Devices opens capture and playback streams.
	Devices device.Provider

	// PlayoutDelay is how long the receiver holds frames before
	// playing them. Larger values absorb more jitter at the cost of
	// latency.
	PlayoutDelay time.Duration

	// PeerTimeout ends a receive session after this much silence from
	// the peer. Keepalives count as activity.
	PeerTimeout time.Duration

	// KeepaliveInterval paces sender keepalives when no audio has
	// been transmitted recently.
	KeepaliveInterval time.Duration

	// HandoffDepth bounds the capture-to-send queue, in frames. When
	// the queue is full the oldest frame is dropped.
	HandoffDepth int

	// Duration stops a sender after this much capture. Zero streams
	// until the context is canceled.
	Duration time.Duration

	// Tap, when set, receives every chunk the receiver plays.
	Tap PlaybackTap

	// Metrics records session instruments. Nil uses the process-wide
	// default set.
	Metrics *observe.Metrics

	// Clock drives the playout schedule. Nil uses the system clock.
	Clock jitter.Clock

	// StatsInterval paces periodic session stats log lines. Zero
	// disables them.
	StatsInterval time.Duration
}

// NewOptions creates an Options with the defaults both roles share.
func NewOptions() *Options {
	return &Options{
		Config:            audio.DefaultConfig(),
		PlayoutDelay:      DefaultPlayoutDelay,
		PeerTimeout:       DefaultPeerTimeout,
		KeepaliveInterval: DefaultKeepaliveInterval,
		HandoffDepth:      DefaultHandoffDepth,
		StatsInterval:     DefaultStatsInterval,
	}
}

// validate checks the fields both roles need.
func (o *Options) validate() error {
	if err := o.Config.Validate(); err != nil {
		return err
	}
	if o.Devices == nil {
		return ErrNoDevices
	}
	return nil
}

// metrics resolves the instrument set, falling back to the process-wide
// default.
func (o *Options) metrics() *observe.Metrics {
	if o.Metrics != nil {
		return o.Metrics
	}
	return observe.DefaultMetrics()
}

// handoffDepth resolves the capture queue bound.
func (o *Options) handoffDepth() int {
	if o.HandoffDepth > 0 {
		return o.HandoffDepth
	}
	return DefaultHandoffDepth
}

// keepaliveInterval resolves the keepalive pacing.
func (o *Options) keepaliveInterval() time.Duration {
	if o.KeepaliveInterval > 0 {
		return o.KeepaliveInterval
	}
	return DefaultKeepaliveInterval
}

// peerTimeout resolves the receive-side silence limit.
func (o *Options) peerTimeout() time.Duration {
	if o.PeerTimeout > 0 {
		return o.PeerTimeout
	}
	return DefaultPeerTimeout
}
