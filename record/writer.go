// Package record taps the receive side's played audio into a WAV file.
//
// Every chunk handed to the playback device, silence substitutes
// included, can be mirrored to disk for later inspection. Integer PCM is
// written at its native depth; float32 is converted to 16-bit.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wavelink/audio"
)

// ErrWriterClosed indicates a Write after Close.
var ErrWriterClosed = errors.New("wav writer closed")

// Writer streams PCM chunks into a WAV file. Safe for use from one
// writing goroutine; Close finalizes the header.
type Writer struct {
	cfg  audio.StreamConfig
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
	log  *logrus.Entry

	mu     sync.Mutex
	closed bool
	chunks uint64
}

// NewWriter creates the file and prepares the encoder. The caller owns
// Close, which finalizes the WAV header.
func NewWriter(path string, cfg audio.StreamConfig) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}

	depth := bitDepth(cfg.Format)
	enc := wav.NewEncoder(f, cfg.SampleRate, depth, cfg.Channels, 1)

	w := &Writer{
		cfg:  cfg,
		file: f,
		enc:  enc,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: cfg.Channels,
				SampleRate:  cfg.SampleRate,
			},
			SourceBitDepth: depth,
		},
		log: logrus.WithFields(logrus.Fields{
			"component": "record",
			"path":      path,
		}),
	}

	w.log.WithField("config", cfg.String()).Info("recording to wav file")
	return w, nil
}

// Write appends one chunk of interleaved little-endian PCM.
func (w *Writer) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.buf.Data = w.buf.Data[:0]
	switch w.cfg.Format {
	case audio.FormatInt16:
		for i := 0; i+1 < len(pcm); i += 2 {
			w.buf.Data = append(w.buf.Data, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		}
	case audio.FormatInt32:
		for i := 0; i+3 < len(pcm); i += 4 {
			w.buf.Data = append(w.buf.Data, int(int32(binary.LittleEndian.Uint32(pcm[i:]))))
		}
	case audio.FormatFloat32:
		for i := 0; i+3 < len(pcm); i += 4 {
			f := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i:]))
			w.buf.Data = append(w.buf.Data, floatToInt16(f))
		}
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write wav chunk: %w", err)
	}
	w.chunks++
	return nil
}

// Chunks returns how many chunks have been written.
func (w *Writer) Chunks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks
}

// Close finalizes the WAV header and closes the file. Safe to call more
// than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.log.WithField("chunks", w.chunks).Info("wav recording finished")

	if err := w.enc.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return w.file.Close()
}

func bitDepth(f audio.SampleFormat) int {
	if f == audio.FormatInt32 {
		return 32
	}
	return 16
}

func floatToInt16(f float32) int {
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int(f * math.MaxInt16)
}
