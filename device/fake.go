package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/wavelink/audio"
)

// Fake is an in-memory Provider. Capture chunks come from a scripted
// generator; playback chunks are recorded for inspection. Tests use it to
// drive whole sessions without hardware.
type Fake struct {
	// Generate fills capture chunk number seq (counted per stream from
	// zero). Nil captures silence.
	Generate func(seq int, pcm []byte)

	// ReadErrs injects a Read error at the given chunk index. The read
	// counter still advances, so a transient error skips one chunk.
	ReadErrs map[int]error

	// Paced makes Read and Write sleep one chunk's wall-clock duration,
	// imitating a real device's cadence. Leave false for tests that
	// drive time themselves.
	Paced bool

	mu      sync.Mutex
	streams []*FakeStream
}

// NewFake returns a Fake with no generator: capture yields silence.
func NewFake() *Fake {
	return &Fake{}
}

// Open starts a fake stream. The config must be valid.
func (f *Fake) Open(dir Direction, cfg audio.StreamConfig) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir != Capture && dir != Playback {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, dir)
	}

	s := &FakeStream{
		dir:      dir,
		cfg:      cfg,
		gen:      f.Generate,
		readErrs: f.ReadErrs,
		paced:    f.Paced,
	}

	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

// Devices lists one fake endpoint per direction.
func (f *Fake) Devices(dir Direction) ([]Info, error) {
	switch dir {
	case Capture:
		return []Info{{Index: 0, Name: "fake input", Default: true}}, nil
	case Playback:
		return []Info{{Index: 0, Name: "fake output", Default: true}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, dir)
	}
}

// Streams returns every stream this provider has opened, in order.
func (f *Fake) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeStream, len(f.streams))
	copy(out, f.streams)
	return out
}

// FakeStream is one scripted audio pipe.
type FakeStream struct {
	dir      Direction
	cfg      audio.StreamConfig
	gen      func(int, []byte)
	readErrs map[int]error
	paced    bool

	mu     sync.Mutex
	closed bool
	reads  int
	writes [][]byte
}

// Read produces the next scripted capture chunk.
func (s *FakeStream) Read(frames int) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	seq := s.reads
	s.reads++
	if err, ok := s.readErrs[seq]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if s.paced {
		s.sleepFor(frames)
	}

	pcm := make([]byte, frames*s.cfg.BytesPerFrame())
	if s.gen != nil {
		s.gen(seq, pcm)
	}
	return pcm, nil
}

// Write records a copy of the played chunk.
func (s *FakeStream) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.writes = append(s.writes, buf)
	s.mu.Unlock()

	if s.paced {
		s.sleepFor(len(pcm) / s.cfg.BytesPerFrame())
	}
	return nil
}

// Close marks the stream released. Safe to call more than once.
func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called, which is how teardown
// tests verify the session released its devices.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads returns how many capture chunks were requested.
func (s *FakeStream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Written returns copies of every played chunk, in order.
func (s *FakeStream) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Direction returns which way this stream flows.
func (s *FakeStream) Direction() Direction {
	return s.dir
}

func (s *FakeStream) sleepFor(frames int) {
	if s.cfg.SampleRate <= 0 {
		return
	}
	time.Sleep(time.Duration(frames) * time.Second / time.Duration(s.cfg.SampleRate))
}
