// Package wire implements the datagram codec for wavelink sessions.
//
// Every datagram carries one frame:
//
//	[sequence (4 bytes, big-endian)][payload length (4 bytes, big-endian)][payload]
//
// The payload is raw interleaved PCM whose length is constant for a session.
// A zero-length payload is a keepalive: it proves the peer is alive without
// carrying audio. Sequence numbers wrap modulo 2^32; ordering uses signed
// modular comparison so the wrap is a normal increment, never a gap.
package wire

import "time"

// Frame is one chunk of audio as it moves through the pipeline.
type Frame struct {
	// Seq orders frames on the wire. Assigned by the sender, wraps
	// modulo 2^32.
	Seq uint32

	// Captured is the sender-local monotonic capture stamp. It never
	// crosses the wire; receivers schedule playout from arrival time.
	Captured time.Time

	// PCM is the chunk payload. Empty for keepalives.
	PCM []byte
}

// Keepalive reports whether the frame carries no audio.
func (f Frame) Keepalive() bool {
	return len(f.PCM) == 0
}

// SeqBefore reports whether sequence a is older than b under modular
// arithmetic. The successor of 0xFFFFFFFF is 0, which compares newer.
func SeqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// SeqDelta returns the signed modular distance from a to b: positive when
// b is newer than a, negative when older.
func SeqDelta(a, b uint32) int32 {
	return int32(b - a)
}
