// Package miniaudio implements the device boundary on real hardware via
// the miniaudio library (github.com/gen2brain/malgo bindings).
//
// miniaudio drives audio through callbacks on its own realtime thread.
// This package bridges those callbacks to the blocking Read/Write calls
// the sessions expect: capture callbacks feed a bounded channel that Read
// drains, and Write feeds a bounded channel that the playback callback
// drains. The channel bounds keep device-side buffering to a few chunks;
// the callback never blocks, padding with silence on underrun and
// dropping on overrun instead.
package miniaudio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wavelink/audio"
	"github.com/opd-ai/wavelink/device"
)

// chunkQueueDepth bounds how many chunks sit between a stream and the
// hardware. Four chunks of slack covers scheduling hiccups without adding
// meaningful latency.
const chunkQueueDepth = 4

// Provider opens streams on the machine's real audio endpoints. One
// miniaudio context is shared by all streams; Close releases it.
type Provider struct {
	ctx *malgo.AllocatedContext
	log *logrus.Entry

	captureIndex  int
	playbackIndex int
}

// New initializes the miniaudio backend with its default platform order
// (ALSA/PulseAudio on Linux, CoreAudio on macOS, WASAPI on Windows).
func New() (*Provider, error) {
	log := logrus.WithField("component", "miniaudio")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio backend: %w", err)
	}

	return &Provider{
		ctx:           ctx,
		log:           log,
		captureIndex:  -1,
		playbackIndex: -1,
	}, nil
}

// SelectDevice pins a non-default endpoint for a direction by its
// enumeration index (the numbers Devices reports). A negative index
// restores the system default.
func (p *Provider) SelectDevice(dir device.Direction, index int) error {
	if index >= 0 {
		infos, err := p.Devices(dir)
		if err != nil {
			return err
		}
		if index >= len(infos) {
			return fmt.Errorf("%w: %s index %d of %d", device.ErrNoDevice, dir, index, len(infos))
		}
	}

	switch dir {
	case device.Capture:
		p.captureIndex = index
	case device.Playback:
		p.playbackIndex = index
	default:
		return fmt.Errorf("%w: %s", device.ErrNoDevice, dir)
	}
	return nil
}

// Devices enumerates the endpoints for a direction.
func (p *Provider) Devices(dir device.Direction) ([]device.Info, error) {
	mtype, err := deviceType(dir)
	if err != nil {
		return nil, err
	}

	infos, err := p.ctx.Devices(mtype)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s devices: %w", dir, err)
	}

	out := make([]device.Info, 0, len(infos))
	for i, info := range infos {
		out = append(out, device.Info{
			Index:   i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return out, nil
}

// Open starts a hardware stream. The device runs immediately; capture
// chunks begin queueing and playback begins draining Write calls.
func (p *Provider) Open(dir device.Direction, cfg audio.StreamConfig) (device.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mtype, err := deviceType(dir)
	if err != nil {
		return nil, err
	}
	format, err := malgoFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	dcfg := malgo.DefaultDeviceConfig(mtype)
	dcfg.SampleRate = uint32(cfg.SampleRate)
	dcfg.PeriodSizeInFrames = uint32(cfg.ChunkFrames)
	dcfg.Alsa.NoMMap = 1

	index := p.captureIndex
	if dir == device.Playback {
		index = p.playbackIndex
	}
	var pinned malgo.DeviceID
	if index >= 0 {
		infos, err := p.ctx.Devices(mtype)
		if err != nil {
			return nil, fmt.Errorf("enumerate %s devices: %w", dir, err)
		}
		if index >= len(infos) {
			return nil, fmt.Errorf("%w: %s index %d of %d", device.ErrNoDevice, dir, index, len(infos))
		}
		pinned = infos[index].ID
	}

	switch dir {
	case device.Capture:
		dcfg.Capture.Format = format
		dcfg.Capture.Channels = uint32(cfg.Channels)
		if index >= 0 {
			dcfg.Capture.DeviceID = pinned.Pointer()
		}
	case device.Playback:
		dcfg.Playback.Format = format
		dcfg.Playback.Channels = uint32(cfg.Channels)
		if index >= 0 {
			dcfg.Playback.DeviceID = pinned.Pointer()
		}
	}

	s := &stream{
		dir:    dir,
		cfg:    cfg,
		chunks: make(chan []byte, chunkQueueDepth),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
		log: p.log.WithFields(logrus.Fields{
			"direction": dir.String(),
			"config":    cfg.String(),
		}),
	}

	dev, err := malgo.InitDevice(p.ctx.Context, dcfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s device: %w", dir, err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start %s device: %w", dir, err)
	}

	s.log.Info("device stream opened")
	return s, nil
}

// Close releases the miniaudio context. Streams must be closed first.
func (p *Provider) Close() error {
	if err := p.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninit audio backend: %w", err)
	}
	p.ctx.Free()
	return nil
}

func deviceType(dir device.Direction) (malgo.DeviceType, error) {
	switch dir {
	case device.Capture:
		return malgo.Capture, nil
	case device.Playback:
		return malgo.Playback, nil
	default:
		return 0, fmt.Errorf("%w: %s", device.ErrNoDevice, dir)
	}
}

func malgoFormat(f audio.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case audio.FormatInt16:
		return malgo.FormatS16, nil
	case audio.FormatInt32:
		return malgo.FormatS32, nil
	case audio.FormatFloat32:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: sample format %d", audio.ErrInvalidConfig, int(f))
	}
}

// stream is one live hardware pipe.
type stream struct {
	dir device.Direction
	cfg audio.StreamConfig
	dev *malgo.Device
	log *logrus.Entry

	chunks chan []byte
	done   chan struct{}
	lost   chan struct{}

	closing   atomic.Bool
	closeOnce sync.Once
	lostOnce  sync.Once

	// readPending is touched only by the Read caller; playPending only
	// by the miniaudio callback thread.
	readPending []byte
	playPending []byte

	underruns atomic.Uint64
	overruns  atomic.Uint64
}

// onData runs on miniaudio's realtime thread and must never block.
func (s *stream) onData(out, in []byte, frames uint32) {
	switch s.dir {
	case device.Capture:
		if len(in) == 0 {
			return
		}
		buf := make([]byte, len(in))
		copy(buf, in)
		select {
		case s.chunks <- buf:
		default:
			// Reader stalled; drop this chunk rather than stall audio.
			s.overruns.Add(1)
		}
	case device.Playback:
		s.fill(out)
	}
}

// fill copies queued playback audio into the device buffer, padding with
// silence when the session has nothing ready.
func (s *stream) fill(out []byte) {
	n := 0
	for n < len(out) {
		if len(s.playPending) == 0 {
			select {
			case buf := <-s.chunks:
				s.playPending = buf
			default:
				s.underruns.Add(1)
				for i := n; i < len(out); i++ {
					out[i] = 0
				}
				return
			}
		}
		c := copy(out[n:], s.playPending)
		n += c
		s.playPending = s.playPending[c:]
	}
}

// onStop fires when the device stops. Outside of Close that means the
// endpoint disappeared.
func (s *stream) onStop() {
	if s.closing.Load() {
		return
	}
	s.lostOnce.Do(func() {
		s.log.Warn("device stopped unexpectedly")
		close(s.lost)
	})
}

// Read blocks until the requested frame count has been captured.
func (s *stream) Read(frames int) ([]byte, error) {
	need := frames * s.cfg.BytesPerFrame()

	out := s.readPending
	s.readPending = nil

	for len(out) < need {
		select {
		case buf := <-s.chunks:
			out = append(out, buf...)
		case <-s.lost:
			return nil, device.ErrDeviceGone
		case <-s.done:
			return nil, device.ErrStreamClosed
		}
	}

	if len(out) > need {
		s.readPending = append([]byte(nil), out[need:]...)
		out = out[:need]
	}
	return out, nil
}

// Write blocks until the playback queue accepts the chunk. The queue
// bound is what paces the playback loop to the device.
func (s *stream) Write(pcm []byte) error {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	select {
	case s.chunks <- buf:
		return nil
	case <-s.lost:
		return device.ErrDeviceGone
	case <-s.done:
		return device.ErrStreamClosed
	}
}

// Close stops and releases the device. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.done)
		_ = s.dev.Stop()
		s.dev.Uninit()

		s.log.WithFields(logrus.Fields{
			"underruns": s.underruns.Load(),
			"overruns":  s.overruns.Load(),
		}).Debug("device stream closed")
	})
	return nil
}
