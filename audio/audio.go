// Package audio defines the stream parameters shared by both ends of a
// wavelink session and the PCM arithmetic derived from them.
//
// A StreamConfig fully determines the shape of the raw audio moving through
// the pipeline: how many bytes one chunk occupies and how much wall-clock
// time it represents. Both peers must be launched with identical values;
// there is no in-band negotiation.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors.
var (
	// ErrInvalidConfig indicates a stream configuration that can never
	// produce a working session. It is fatal before any stream is opened.
	ErrInvalidConfig = errors.New("invalid stream config")
)

// SampleFormat identifies the in-memory encoding of a single PCM sample.
type SampleFormat int

const (
	// FormatInt16 is 16-bit signed little-endian PCM.
	FormatInt16 SampleFormat = iota

	// FormatInt32 is 32-bit signed little-endian PCM.
	FormatInt32

	// FormatFloat32 is 32-bit IEEE 754 little-endian PCM in [-1, 1].
	FormatFloat32
)

// Width returns the size of one sample in bytes, or 0 for an unknown format.
func (f SampleFormat) Width() int {
	switch f {
	case FormatInt16:
		return 2
	case FormatInt32, FormatFloat32:
		return 4
	default:
		return 0
	}
}

// String returns the flag-style name of the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatInt32:
		return "int32"
	case FormatFloat32:
		return "float32"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a flag-style name ("int16", "int32", "float32") to a
// SampleFormat.
func ParseFormat(s string) (SampleFormat, error) {
	switch s {
	case "int16", "s16":
		return FormatInt16, nil
	case "int32", "s32":
		return FormatInt32, nil
	case "float32", "f32":
		return FormatFloat32, nil
	default:
		return 0, fmt.Errorf("%w: unknown sample format %q", ErrInvalidConfig, s)
	}
}

// StreamConfig describes one PCM audio stream. The zero value is invalid;
// start from DefaultConfig or fill every field.
type StreamConfig struct {
	// SampleRate is samples per second per channel, e.g. 48000.
	SampleRate int

	// Channels is the interleaved channel count (1 = mono, 2 = stereo).
	Channels int

	// Format is the PCM sample encoding.
	Format SampleFormat

	// ChunkFrames is the number of frames captured and played per chunk.
	// One frame is one sample per channel.
	ChunkFrames int
}

// DefaultConfig returns the configuration both tools start from:
// 48kHz mono int16 with 480-frame (10ms) chunks.
func DefaultConfig() StreamConfig {
	return StreamConfig{
		SampleRate:  48000,
		Channels:    1,
		Format:      FormatInt16,
		ChunkFrames: 480,
	}
}

// BytesPerFrame returns the size of one interleaved frame in bytes.
func (c StreamConfig) BytesPerFrame() int {
	return c.Channels * c.Format.Width()
}

// BytesPerChunk returns the constant payload size of one chunk in bytes.
func (c StreamConfig) BytesPerChunk() int {
	return c.ChunkFrames * c.BytesPerFrame()
}

// FrameInterval returns the wall-clock duration one chunk represents:
// ChunkFrames / SampleRate. 480 frames at 48kHz is 10ms.
func (c StreamConfig) FrameInterval() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.ChunkFrames) * time.Second / time.Duration(c.SampleRate)
}

// Silence returns a freshly allocated all-zero chunk sized for the config.
// Zeroed bytes decode to silence in every supported format.
func (c StreamConfig) Silence() []byte {
	return make([]byte, c.BytesPerChunk())
}

// Validate reports whether the configuration can drive a session. All
// failures wrap ErrInvalidConfig.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidConfig, c.Channels)
	}
	if c.Format.Width() == 0 {
		return fmt.Errorf("%w: sample format %d", ErrInvalidConfig, int(c.Format))
	}
	if c.ChunkFrames <= 0 {
		return fmt.Errorf("%w: chunk frames %d", ErrInvalidConfig, c.ChunkFrames)
	}
	return nil
}

// String formats the config the way the CLI flags spell it, for log lines.
func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz/%dch/%s/%df", c.SampleRate, c.Channels, c.Format, c.ChunkFrames)
}
