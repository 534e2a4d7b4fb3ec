// Package device is the capability boundary between wavelink sessions and
// the machine's audio endpoints.
//
// A Provider opens Streams: blocking byte pipes whose cadence paces the
// rest of the pipeline. Capture Read blocks until a chunk's worth of
// frames has been sampled; playback Write blocks until the device accepts
// the chunk. The real implementation lives in device/miniaudio; Fake is
// the deterministic stand-in used by tests and demos.
package device

import (
	"errors"
	"fmt"

	"github.com/opd-ai/wavelink/audio"
)

// Device errors.
var (
	// ErrDeviceGone indicates the endpoint disappeared out from under a
	// live stream (unplugged, backend lost). Fatal to the session.
	ErrDeviceGone = errors.New("audio device gone")

	// ErrStreamClosed indicates use of a stream after Close.
	ErrStreamClosed = errors.New("audio stream closed")

	// ErrNoDevice indicates the requested endpoint does not exist.
	ErrNoDevice = errors.New("no such audio device")
)

// Direction says which way audio flows through a stream.
type Direction int

const (
	// Capture reads from an input endpoint (microphone).
	Capture Direction = iota

	// Playback writes to an output endpoint (speakers).
	Playback
)

// String returns the human name of the direction.
func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Info describes one selectable endpoint.
type Info struct {
	// Index selects the endpoint; stable for the life of the Provider.
	Index int

	// Name is the backend's human-readable endpoint name.
	Name string

	// Default marks the system default endpoint for its direction.
	Default bool
}

// Provider opens audio streams and enumerates endpoints.
type Provider interface {
	// Open starts a stream in the given direction. The stream is live
	// immediately; the caller owns its Close.
	Open(dir Direction, cfg audio.StreamConfig) (Stream, error)

	// Devices lists the selectable endpoints for a direction.
	Devices(dir Direction) ([]Info, error)
}

// Stream is one live audio pipe. Read and Write block at the device's own
// pace; that blocking is what times the capture and playback loops.
type Stream interface {
	// Read blocks until the given number of frames has been captured and
	// returns them as interleaved little-endian PCM bytes.
	Read(frames int) ([]byte, error)

	// Write blocks until the device accepts the chunk for playback.
	Write(pcm []byte) error

	// Close releases the endpoint. Safe to call more than once; other
	// methods fail with ErrStreamClosed afterwards.
	Close() error
}
