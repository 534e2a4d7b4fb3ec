package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/wavelink/audio"
)

// Decode and encode errors. Per-frame failures are recoverable: the caller
// drops the datagram and keeps the session running.
var (
	// ErrTruncated indicates a datagram shorter than its header declares,
	// or shorter than the header itself.
	ErrTruncated = errors.New("truncated datagram")

	// ErrSizeMismatch indicates a decoded payload length that disagrees
	// with the session's configured chunk size.
	ErrSizeMismatch = errors.New("payload size mismatch")

	// ErrPayloadSize indicates an outgoing frame whose payload does not
	// match the configured chunk size.
	ErrPayloadSize = errors.New("invalid payload size")
)

// Codec encodes and decodes frames for one session. The expected payload
// length is pinned at construction; both peers must build their codec from
// the same StreamConfig or every frame decodes to ErrSizeMismatch.
type Codec struct {
	payloadLen int
}

// NewCodec builds a codec for the given stream parameters. The encoded
// datagram must fit a single UDP/IPv4 payload; configurations that cannot
// are rejected with audio.ErrInvalidConfig.
func NewCodec(cfg audio.StreamConfig) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if size := cfg.BytesPerChunk(); size > MaxPayload {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds datagram payload limit %d",
			audio.ErrInvalidConfig, size, MaxPayload)
	}
	return &Codec{payloadLen: cfg.BytesPerChunk()}, nil
}

// PayloadSize returns the pinned per-frame payload length in bytes.
func (c *Codec) PayloadSize() int {
	return c.payloadLen
}

// Encode serializes a frame for transmission. The payload length is
// enforced here, on the sending host, so undersized or oversized chunks
// never reach the wire.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	if len(f.PCM) != c.payloadLen {
		return nil, fmt.Errorf("%w: got %d bytes, session uses %d", ErrPayloadSize, len(f.PCM), c.payloadLen)
	}

	// Format: [sequence (4 bytes)][payload length (4 bytes)][payload]
	buf := make([]byte, HeaderSize+len(f.PCM))
	binary.BigEndian.PutUint32(buf[0:4], f.Seq)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.PCM)))
	copy(buf[HeaderSize:], f.PCM)

	return buf, nil
}

// EncodeKeepalive serializes a header-only datagram carrying the given
// sequence without consuming it. Receivers count it for liveness and
// otherwise discard it.
func (c *Codec) EncodeKeepalive(seq uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], seq)
	return buf
}

// Decode parses one datagram into a Frame. The payload is copied out of
// data, so callers may reuse their receive buffer. A zero-length payload
// decodes to a keepalive frame, not an error.
func (c *Codec) Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), HeaderSize)
	}

	seq := binary.BigEndian.Uint32(data[0:4])
	declared := binary.BigEndian.Uint32(data[4:8])

	if uint64(declared) > uint64(len(data)-HeaderSize) {
		return Frame{}, fmt.Errorf("%w: header declares %d payload bytes, %d present",
			ErrTruncated, declared, len(data)-HeaderSize)
	}
	if declared == 0 {
		return Frame{Seq: seq}, nil
	}
	if int(declared) != c.payloadLen {
		return Frame{}, fmt.Errorf("%w: declared %d bytes, session uses %d", ErrSizeMismatch, declared, c.payloadLen)
	}

	pcm := make([]byte, declared)
	copy(pcm, data[HeaderSize:HeaderSize+int(declared)])

	return Frame{Seq: seq, PCM: pcm}, nil
}
