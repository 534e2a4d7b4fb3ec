package record

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wavelink/audio"
)

func TestWriterRoundTripInt16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	cfg := audio.StreamConfig{SampleRate: 48000, Channels: 1, Format: audio.FormatInt16, ChunkFrames: 4}

	w, err := NewWriter(path, cfg)
	require.NoError(t, err)

	samples := []int16{0, 1000, -1000, 32767}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	require.NoError(t, w.Write(pcm))
	require.NoError(t, w.Write(pcm))
	assert.Equal(t, uint64(2), w.Chunks())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	require.Len(t, buf.Data, 8)
	for i, want := range append(samples, samples...) {
		assert.Equal(t, int(want), buf.Data[i], "sample %d", i)
	}
	assert.Equal(t, 48000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
}

func TestWriterFloat32Converts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.wav")
	cfg := audio.StreamConfig{SampleRate: 48000, Channels: 1, Format: audio.FormatFloat32, ChunkFrames: 3}

	w, err := NewWriter(path, cfg)
	require.NoError(t, err)

	values := []float32{0, 1, -1}
	pcm := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(pcm[i*4:], math.Float32bits(v))
	}

	require.NoError(t, w.Write(pcm))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)

	require.Len(t, buf.Data, 3)
	assert.Equal(t, 0, buf.Data[0])
	assert.Equal(t, math.MaxInt16, buf.Data[1])
	assert.Equal(t, -math.MaxInt16, buf.Data[2])
}

func TestWriterCloseIdempotentAndFinal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.wav")

	w, err := NewWriter(path, audio.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.Write(make([]byte, 960))
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestNewWriterRejectsInvalidConfig(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "bad.wav"), audio.StreamConfig{})
	assert.ErrorIs(t, err, audio.ErrInvalidConfig)
}

func TestNewWriterRejectsUnwritablePath(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing", "out.wav"), audio.DefaultConfig())
	require.Error(t, err)
}
