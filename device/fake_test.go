package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wavelink/audio"
)

func TestFakeCaptureGenerator(t *testing.T) {
	f := NewFake()
	f.Generate = func(seq int, pcm []byte) {
		for i := range pcm {
			pcm[i] = byte(seq)
		}
	}

	s, err := f.Open(Capture, audio.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	for want := 0; want < 3; want++ {
		pcm, err := s.Read(480)
		require.NoError(t, err)
		require.Len(t, pcm, 960)
		assert.Equal(t, byte(want), pcm[0])
		assert.Equal(t, byte(want), pcm[len(pcm)-1])
	}
}

func TestFakeCaptureSilentWithoutGenerator(t *testing.T) {
	f := NewFake()

	s, err := f.Open(Capture, audio.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	pcm, err := s.Read(480)
	require.NoError(t, err)
	for _, b := range pcm {
		require.Zero(t, b)
	}
}

func TestFakePlaybackRecordsCopies(t *testing.T) {
	f := NewFake()

	s, err := f.Open(Playback, audio.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	chunk := make([]byte, 960)
	chunk[0] = 0x42
	require.NoError(t, s.Write(chunk))

	// The recording must survive the caller reusing its buffer.
	chunk[0] = 0x00

	fs := f.Streams()[0]
	written := fs.Written()
	require.Len(t, written, 1)
	assert.Equal(t, byte(0x42), written[0][0])
}

func TestFakeInjectedReadError(t *testing.T) {
	boom := errors.New("transient glitch")
	f := NewFake()
	f.ReadErrs = map[int]error{1: boom}

	s, err := f.Open(Capture, audio.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Read(480)
	require.NoError(t, err)

	_, err = s.Read(480)
	assert.ErrorIs(t, err, boom)

	// The failed chunk is skipped, not retried.
	_, err = s.Read(480)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Streams()[0].Reads())
}

func TestFakeCloseIsIdempotentAndFinal(t *testing.T) {
	f := NewFake()

	s, err := f.Open(Capture, audio.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	fs := f.Streams()[0]
	assert.True(t, fs.Closed())

	_, err = s.Read(480)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, s.Write(make([]byte, 960)), ErrStreamClosed)
}

func TestFakeOpenValidates(t *testing.T) {
	f := NewFake()

	_, err := f.Open(Capture, audio.StreamConfig{})
	assert.ErrorIs(t, err, audio.ErrInvalidConfig)

	_, err = f.Open(Direction(9), audio.DefaultConfig())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestFakeDevices(t *testing.T) {
	f := NewFake()

	for _, dir := range []Direction{Capture, Playback} {
		infos, err := f.Devices(dir)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.True(t, infos[0].Default)
		assert.NotEmpty(t, infos[0].Name)
	}

	_, err := f.Devices(Direction(9))
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestFakePacedReadTakesRealTime(t *testing.T) {
	f := NewFake()
	f.Paced = true

	s, err := f.Open(Capture, audio.DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, err = s.Read(480)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 9*time.Millisecond)
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "capture", Capture.String())
	assert.Equal(t, "playback", Playback.String())
	assert.Equal(t, "direction(9)", Direction(9).String())
}
