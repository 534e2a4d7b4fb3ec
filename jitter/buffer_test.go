package jitter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wavelink/wire"
)

const (
	testInterval = 10 * time.Millisecond
	testDelay    = 60 * time.Millisecond
	testChunk    = 960
)

// fakeClock is a manually advanced Clock so scheduling decisions are
// deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBuffer(t *testing.T) (*Buffer, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	b, err := New(Config{
		Interval:   testInterval,
		Delay:      testDelay,
		ChunkBytes: testChunk,
		Clock:      clk,
	})
	require.NoError(t, err)
	return b, clk
}

// frameFor builds a chunk whose every byte encodes the sequence, so
// deliveries can be matched back to the frame that carried them.
func frameFor(seq uint32) wire.Frame {
	pcm := make([]byte, testChunk)
	for i := range pcm {
		pcm[i] = byte(seq)
	}
	return wire.Frame{Seq: seq, PCM: pcm}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"zero interval", Config{ChunkBytes: testChunk}, ErrInvalidInterval},
		{"zero chunk", Config{Interval: testInterval}, ErrInvalidChunk},
		{"negative delay", Config{Interval: testInterval, ChunkBytes: testChunk, Delay: -time.Millisecond}, ErrInvalidDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewDefaultsDelay(t *testing.T) {
	b, err := New(Config{Interval: testInterval, ChunkBytes: testChunk})
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, b.Delay())
}

func TestPrimingSilenceThenFirstDelivery(t *testing.T) {
	b, clk := newTestBuffer(t)

	b.Insert(frameFor(0))

	// Until the playout delay elapses the buffer primes with silence,
	// consuming no sequence slots.
	for i := 0; i < 6; i++ {
		p := b.Pull()
		assert.Equal(t, PullIdle, p.Kind, "pull %d", i)
		require.Len(t, p.PCM, testChunk)
		clk.Advance(testInterval)
	}

	p := b.Pull()
	require.Equal(t, PullFrame, p.Kind)
	assert.Equal(t, uint32(0), p.Seq)
	assert.Equal(t, byte(0), p.PCM[0])

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(6), stats.IdlePulls)
}

func TestOutOfOrderArrivalsDeliverInOrder(t *testing.T) {
	b, clk := newTestBuffer(t)

	for _, seq := range []uint32{0, 3, 1, 2} {
		b.Insert(frameFor(seq))
	}

	clk.Advance(testDelay)
	var got []uint32
	for len(got) < 4 {
		p := b.Pull()
		if p.Kind == PullFrame {
			got = append(got, p.Seq)
			assert.Equal(t, byte(p.Seq), p.PCM[0])
		}
		clk.Advance(testInterval)
	}

	assert.Equal(t, []uint32{0, 1, 2, 3}, got)
	assert.Zero(t, b.Stats().Concealed)
}

func TestStaleFramesDiscarded(t *testing.T) {
	b, clk := newTestBuffer(t)

	b.Insert(frameFor(0))
	b.Insert(frameFor(1))

	clk.Advance(testDelay)
	require.Equal(t, PullFrame, b.Pull().Kind)
	clk.Advance(testInterval)
	require.Equal(t, PullFrame, b.Pull().Kind)

	// Both slots are consumed; late copies must never play again.
	b.Insert(frameFor(0))
	b.Insert(frameFor(1))

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Stale)
	assert.Zero(t, stats.Depth)
	assert.Equal(t, PullIdle, b.Pull().Kind)
}

func TestGapConcealedExactlyOnce(t *testing.T) {
	b, clk := newTestBuffer(t)

	b.Insert(frameFor(0))
	b.Insert(frameFor(1))
	b.Insert(frameFor(3)) // 2 never arrives

	clk.Advance(testDelay)

	var consumed []Pull
	for tick := 0; tick < 6; tick++ {
		p := b.Pull()
		if p.Kind != PullIdle {
			consumed = append(consumed, p)
		}
		clk.Advance(testInterval)
	}

	require.Len(t, consumed, 4)
	assert.Equal(t, PullFrame, consumed[0].Kind)
	assert.Equal(t, uint32(0), consumed[0].Seq)
	assert.Equal(t, PullFrame, consumed[1].Kind)
	assert.Equal(t, uint32(1), consumed[1].Seq)
	assert.Equal(t, PullConcealed, consumed[2].Kind)
	assert.Equal(t, uint32(2), consumed[2].Seq)
	assert.Equal(t, PullFrame, consumed[3].Kind)
	assert.Equal(t, uint32(3), consumed[3].Seq)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Concealed)
	assert.Equal(t, uint64(3), stats.Delivered)
}

func TestDuplicateKeepsFirstCopy(t *testing.T) {
	b, clk := newTestBuffer(t)

	first := frameFor(0)
	dup := frameFor(0)
	dup.PCM[0] = 0xEE

	b.Insert(first)
	b.Insert(dup)

	assert.Equal(t, uint64(1), b.Stats().Duplicates)

	clk.Advance(testDelay)
	p := b.Pull()
	require.Equal(t, PullFrame, p.Kind)
	assert.Equal(t, byte(0), p.PCM[0], "first arrival wins")
}

func TestSequenceWraparound(t *testing.T) {
	b, clk := newTestBuffer(t)

	seqs := []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0, 1}
	for _, seq := range seqs {
		b.Insert(frameFor(seq))
	}

	clk.Advance(testDelay)
	var got []uint32
	for len(got) < len(seqs) {
		p := b.Pull()
		require.NotEqual(t, PullConcealed, p.Kind, "wrap must not look like loss")
		if p.Kind == PullFrame {
			got = append(got, p.Seq)
		}
		clk.Advance(testInterval)
	}

	assert.Equal(t, seqs, got)
	stats := b.Stats()
	assert.Zero(t, stats.Resyncs)
	assert.Zero(t, stats.Jumps)
}

func TestCapacityEvictsOldest(t *testing.T) {
	b, _ := newTestBuffer(t)

	// Capacity at these settings is 2*60ms/10ms = 12 entries.
	for seq := uint32(0); seq < 13; seq++ {
		b.Insert(frameFor(seq))
	}

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Equal(t, 12, stats.Depth)
}

func TestLateArrivalsPurged(t *testing.T) {
	b, clk := newTestBuffer(t)

	b.Insert(frameFor(0))
	clk.Advance(testDelay)
	require.Equal(t, PullFrame, b.Pull().Kind)

	// Frame 1 straggles in 190ms past its slot, far beyond the delay.
	clk.Advance(200 * time.Millisecond)
	b.Insert(frameFor(1))

	p := b.Pull()
	assert.Equal(t, PullIdle, p.Kind)
	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.LatePurged)
	assert.Zero(t, stats.Depth)
}

func TestKeepalivesNeverEnterBuffer(t *testing.T) {
	b, _ := newTestBuffer(t)

	b.Insert(wire.Frame{Seq: 17})

	stats := b.Stats()
	assert.Zero(t, stats.Inserted)
	assert.Zero(t, stats.Depth)
	assert.Equal(t, PullIdle, b.Pull().Kind)
}

func TestEarlierFramesAcceptedBeforePlayoutStarts(t *testing.T) {
	b, clk := newTestBuffer(t)

	// 5 anchors the stream, then older frames from the stream head
	// arrive reordered. Nothing has played, so they are not stale.
	b.Insert(frameFor(5))
	b.Insert(frameFor(3))
	b.Insert(frameFor(4))

	clk.Advance(testDelay)
	var got []uint32
	for len(got) < 3 {
		p := b.Pull()
		if p.Kind == PullFrame {
			got = append(got, p.Seq)
		}
		clk.Advance(testInterval)
	}

	assert.Equal(t, []uint32{3, 4, 5}, got)
	assert.Zero(t, b.Stats().Stale)
}

func TestResyncAfterPause(t *testing.T) {
	tests := []struct {
		name      string
		resumeSeq uint32
	}{
		{"sender restarts from zero", 0},
		{"stream resumes with continuous sequence", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clk := newTestBuffer(t)

			for seq := uint32(0); seq < 5; seq++ {
				b.Insert(frameFor(seq))
			}
			clk.Advance(testDelay)
			for i := 0; i < 5; i++ {
				require.Equal(t, PullFrame, b.Pull().Kind)
				clk.Advance(testInterval)
			}

			// Dead air well past the resync window, then the stream
			// comes back.
			clk.Advance(3 * time.Second)
			require.Equal(t, PullIdle, b.Pull().Kind)

			b.Insert(frameFor(tt.resumeSeq))
			require.Equal(t, uint64(1), b.Stats().Resyncs)

			// The resumed frame plays one fresh delay after arrival.
			require.Equal(t, PullIdle, b.Pull().Kind)
			clk.Advance(testDelay)
			p := b.Pull()
			require.Equal(t, PullFrame, p.Kind)
			assert.Equal(t, tt.resumeSeq, p.Seq)
		})
	}
}

func TestJumpPastWideGap(t *testing.T) {
	b, clk := newTestBuffer(t)

	for seq := uint32(0); seq < 4; seq++ {
		b.Insert(frameFor(seq))
	}
	clk.Advance(testDelay)
	for i := 0; i < 4; i++ {
		require.Equal(t, PullFrame, b.Pull().Kind)
		clk.Advance(testInterval)
	}

	// One-way outage: the sender keeps counting while nothing arrives.
	// 196 slots later the link heals and current frames arrive with
	// schedules that are still valid.
	clk.Advance(1960 * time.Millisecond)
	for seq := uint32(200); seq < 203; seq++ {
		b.Insert(frameFor(seq))
	}

	clk.Advance(testDelay)
	p := b.Pull()
	require.Equal(t, PullFrame, p.Kind)
	assert.Equal(t, uint32(200), p.Seq)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Jumps)
	assert.Zero(t, stats.Resyncs)
}

func TestFarFutureFrameDiscarded(t *testing.T) {
	b, clk := newTestBuffer(t)

	for seq := uint32(0); seq < 6; seq++ {
		b.Insert(frameFor(seq))
	}
	clk.Advance(testDelay)
	for i := 0; i < 6; i++ {
		require.Equal(t, PullFrame, b.Pull().Kind)
		clk.Advance(testInterval)
	}

	// A corrupted or unsolicited datagram carries a sequence whose slot
	// is months away. An entry that never comes due must not take up
	// residence: it would pin the schedule and never drain.
	b.Insert(frameFor(6 + 1<<30))

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.FarFuture)
	assert.Zero(t, stats.Depth)
	require.Equal(t, PullIdle, b.Pull().Kind)

	// Dead air past the resync window, then the sender restarts from
	// zero. The restart must re-anchor and play again.
	clk.Advance(5 * time.Second)
	for seq := uint32(0); seq < 3; seq++ {
		b.Insert(frameFor(seq))
	}
	require.Equal(t, uint64(1), b.Stats().Resyncs)

	clk.Advance(testDelay)
	p := b.Pull()
	require.Equal(t, PullFrame, p.Kind)
	assert.Equal(t, uint32(0), p.Seq)

	stats = b.Stats()
	assert.Equal(t, uint64(7), stats.Delivered)
	assert.Zero(t, stats.Stale)
	assert.Zero(t, stats.Jumps)
}

// TestLossyStreamScenario drives the full receive-side contract: 100
// frames at 10ms spacing with 5% loss and a 60ms playout delay must come
// out as exactly 100 consumed slots in order, at least 94 of them real
// and at most 6 concealed.
func TestLossyStreamScenario(t *testing.T) {
	b, clk := newTestBuffer(t)

	dropped := map[uint32]bool{7: true, 23: true, 42: true, 61: true, 88: true}

	var consumed []Pull
	for tick := 0; tick < 130; tick++ {
		seq := uint32(tick)
		if tick < 100 && !dropped[seq] {
			b.Insert(frameFor(seq))
		}

		p := b.Pull()
		if p.Kind != PullIdle {
			consumed = append(consumed, p)
		}
		clk.Advance(testInterval)
	}

	require.Len(t, consumed, 100, "every slot 0..99 consumed exactly once")

	real, concealed := 0, 0
	for i, p := range consumed {
		require.Equal(t, uint32(i), p.Seq, "slots must come out in order")
		switch p.Kind {
		case PullFrame:
			real++
			assert.Equal(t, byte(p.Seq), p.PCM[0])
		case PullConcealed:
			concealed++
			assert.True(t, dropped[p.Seq], "only dropped slots may be concealed")
		}
	}

	assert.GreaterOrEqual(t, real, 94)
	assert.LessOrEqual(t, concealed, 6)
	assert.Equal(t, len(dropped), concealed)

	stats := b.Stats()
	assert.Equal(t, uint64(95), stats.Delivered)
	assert.Equal(t, uint64(5), stats.Concealed)
	assert.Zero(t, stats.Stale)
	assert.Zero(t, stats.Evicted)
}

func TestConcurrentInsertAndPull(t *testing.T) {
	b, clk := newTestBuffer(t)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for seq := uint32(0); seq < 200; seq++ {
			b.Insert(frameFor(seq))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Pull()
			clk.Advance(time.Millisecond)
		}
	}()

	wg.Wait()

	// No assertion beyond the race detector and counter sanity.
	stats := b.Stats()
	assert.NotZero(t, stats.Inserted)
}
