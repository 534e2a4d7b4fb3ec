package wavelink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wavelink/device"
	"github.com/opd-ai/wavelink/transport"
	"github.com/opd-ai/wavelink/wire"
)

// collectTap records every chunk the receiver plays.
type collectTap struct {
	chunks int
	bytes  int
}

func (c *collectTap) Write(pcm []byte) error {
	c.chunks++
	c.bytes += len(pcm)
	return nil
}

// TestLinkLoopback runs a sender and receiver against each other over
// localhost UDP with fake devices on both ends: the capture side marks
// each chunk with its sequence, and the playback side must receive the
// marks intact and in order.
func TestLinkLoopback(t *testing.T) {
	rxProv := device.NewFake()
	rxProv.Paced = true

	tap := &collectTap{}

	rxOpts := NewOptions()
	rxOpts.ListenAddr = "127.0.0.1:0"
	rxOpts.Devices = rxProv
	rxOpts.PlayoutDelay = 40 * time.Millisecond
	rxOpts.Tap = tap
	rxOpts.StatsInterval = 0

	rx, err := NewReceiver(rxOpts)
	require.NoError(t, err)

	rxCtx, rxCancel := context.WithCancel(context.Background())
	rxDone := make(chan error, 1)
	go func() { rxDone <- rx.Run(rxCtx) }()

	txProv := device.NewFake()
	txProv.Paced = true
	txProv.Generate = func(seq int, pcm []byte) {
		pcm[0] = byte(seq + 1)
	}

	txOpts := NewOptions()
	txOpts.PeerAddr = rx.LocalAddr().String()
	txOpts.Devices = txProv
	txOpts.Duration = 500 * time.Millisecond
	txOpts.StatsInterval = 0

	tx, err := NewSender(txOpts)
	require.NoError(t, err)
	require.NoError(t, tx.Run(context.Background()))

	// Let the playout delay elapse and the buffered tail drain.
	time.Sleep(300 * time.Millisecond)
	rxCancel()
	require.NoError(t, <-rxDone)

	txStats := tx.Stats()
	assert.GreaterOrEqual(t, txStats.Captured, uint64(35))
	assert.GreaterOrEqual(t, txStats.Sent, uint64(30))

	rxStats := rx.Stats()
	assert.GreaterOrEqual(t, rxStats.Frames, uint64(30))
	assert.GreaterOrEqual(t, rxStats.Played, uint64(25))
	assert.Zero(t, rxStats.DecodeErrors)

	bs := rx.BufferStats()
	assert.Zero(t, bs.Resyncs, "clean localhost run should never resync")
	assert.GreaterOrEqual(t, bs.Delivered, uint64(25))

	// The tap sees everything the device plays, idle silence included.
	assert.GreaterOrEqual(t, tap.chunks, int(rxStats.Played))

	// Marked chunks must come out in capture order.
	streams := rxProv.Streams()
	require.Len(t, streams, 1)
	var markers []byte
	for _, chunk := range streams[0].Written() {
		if len(chunk) > 0 && chunk[0] != 0 {
			markers = append(markers, chunk[0])
		}
	}
	assert.GreaterOrEqual(t, len(markers), 25)
	for i := 1; i < len(markers); i++ {
		assert.Greater(t, markers[i], markers[i-1], "playback order should match capture order")
	}
}

// TestLinkConcealsLosses runs the same localhost pipeline through a
// relay that drops a fixed slice of the audio datagrams. The receiver
// must conceal the missing slots and keep playing in order, without
// ever re-anchoring.
func TestLinkConcealsLosses(t *testing.T) {
	rxProv := device.NewFake()
	rxProv.Paced = true

	rxOpts := NewOptions()
	rxOpts.ListenAddr = "127.0.0.1:0"
	rxOpts.Devices = rxProv
	rxOpts.StatsInterval = 0

	rx, err := NewReceiver(rxOpts)
	require.NoError(t, err)

	rxCtx, rxCancel := context.WithCancel(context.Background())
	rxDone := make(chan error, 1)
	go func() { rxDone <- rx.Run(rxCtx) }()

	// The relay sits between the two sockets and drops every tenth
	// audio datagram; everything else passes through untouched.
	relay, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	droppedCh := make(chan int, 1)
	go func() {
		buf := make([]byte, transport.MaxDatagramSize)
		audioSeen, dropped := 0, 0
		for {
			n, _, err := relay.Recv(buf, 50*time.Millisecond)
			if errors.Is(err, transport.ErrRecvTimeout) {
				continue
			}
			if err != nil {
				droppedCh <- dropped
				return
			}
			if n > wire.HeaderSize {
				audioSeen++
				if audioSeen%10 == 3 {
					dropped++
					continue
				}
			}
			_ = relay.SendTo(buf[:n], rx.LocalAddr())
		}
	}()

	txProv := device.NewFake()
	txProv.Paced = true
	txProv.Generate = func(seq int, pcm []byte) {
		pcm[0] = byte(seq + 1)
	}

	txOpts := NewOptions()
	txOpts.PeerAddr = relay.LocalAddr().String()
	txOpts.Devices = txProv
	txOpts.Duration = 500 * time.Millisecond
	txOpts.StatsInterval = 0

	tx, err := NewSender(txOpts)
	require.NoError(t, err)
	require.NoError(t, tx.Run(context.Background()))

	// Let the playout delay elapse and the buffered tail drain.
	time.Sleep(300 * time.Millisecond)
	rxCancel()
	require.NoError(t, <-rxDone)
	relay.Close()
	dropped := <-droppedCh

	require.GreaterOrEqual(t, dropped, 3, "the relay must have dropped audio")

	rxStats := rx.Stats()
	assert.GreaterOrEqual(t, rxStats.Frames, uint64(25))
	assert.Zero(t, rxStats.DecodeErrors)

	bs := rx.BufferStats()
	assert.GreaterOrEqual(t, bs.Delivered, uint64(25))
	assert.GreaterOrEqual(t, bs.Concealed, uint64(2))
	assert.LessOrEqual(t, bs.Concealed, uint64(dropped+3))
	assert.Zero(t, bs.Resyncs, "loss must be concealed, never re-anchored")

	// Surviving marks still play strictly in capture order.
	streams := rxProv.Streams()
	require.Len(t, streams, 1)
	var markers []byte
	for _, chunk := range streams[0].Written() {
		if len(chunk) > 0 && chunk[0] != 0 {
			markers = append(markers, chunk[0])
		}
	}
	assert.GreaterOrEqual(t, len(markers), 20)
	for i := 1; i < len(markers); i++ {
		assert.Greater(t, markers[i], markers[i-1], "playback order should match capture order")
	}
}

// TestLinkSurvivesReceiverAbsence checks that a sender whose peer never
// answers still completes its configured duration; UDP has no handshake
// to fail.
func TestLinkSurvivesReceiverAbsence(t *testing.T) {
	prov := device.NewFake()
	prov.Paced = true

	opts := NewOptions()
	opts.PeerAddr = "127.0.0.1:9"
	opts.Devices = prov
	opts.Duration = 100 * time.Millisecond
	opts.StatsInterval = 0

	s, err := NewSender(opts)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	assert.GreaterOrEqual(t, s.Stats().Captured, uint64(5))
}
