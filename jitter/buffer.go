// Package jitter absorbs network timing noise between datagram arrival and
// device playback.
//
// The buffer is a playout scheduler. The first accepted frame anchors an
// epoch at its own arrival time; every sequence number then owes its
// playout at
//
//	epoch + (seq - anchor) x interval + delay
//
// where delay is the configured playout delay. Frames arriving before
// their slot wait; frames arriving more than one delay after it are
// dropped; a slot whose frame never arrives at all is concealed with
// exactly one silence chunk. Pulls happen at the playback device's own
// cadence, so the buffer keeps no timers of its own. It only reads a
// Clock.
package jitter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wavelink/wire"
)

// DefaultDelay is the playout delay used when none is configured. It caps
// added latency at 60ms while riding out typical LAN and same-region jitter.
const DefaultDelay = 60 * time.Millisecond

// Buffer construction errors.
var (
	// ErrInvalidInterval indicates a non-positive frame interval.
	ErrInvalidInterval = errors.New("invalid frame interval")

	// ErrInvalidChunk indicates a non-positive chunk size.
	ErrInvalidChunk = errors.New("invalid chunk size")

	// ErrInvalidDelay indicates a negative playout delay.
	ErrInvalidDelay = errors.New("invalid playout delay")
)

// PullKind identifies which of the three outcomes a pull produced.
type PullKind int

const (
	// PullFrame delivered a real frame for its slot.
	PullFrame PullKind = iota

	// PullConcealed delivered a silence substitute for one lost frame,
	// consuming its sequence slot.
	PullConcealed

	// PullIdle delivered silence without consuming a slot: the buffer is
	// priming, the stream is paused, or the next slot is not due yet.
	PullIdle
)

// String returns the counter-style name of the kind.
func (k PullKind) String() string {
	switch k {
	case PullFrame:
		return "frame"
	case PullConcealed:
		return "concealed"
	case PullIdle:
		return "idle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pull is the outcome of one pull cycle: always exactly one chunk.
type Pull struct {
	// PCM is one chunk of audio. For PullConcealed and PullIdle it is
	// shared silence storage; callers must treat it as read-only.
	PCM []byte

	// Seq is the sequence slot consumed. Meaningful for PullFrame and
	// PullConcealed only.
	Seq uint32

	// Kind says what the chunk is.
	Kind PullKind
}

// Stats is a snapshot of the buffer's counters.
type Stats struct {
	Inserted   uint64 // frames accepted into a slot
	Stale      uint64 // discarded: older than the last consumed slot
	FarFuture  uint64 // discarded: scheduled beyond the resync window
	Duplicates uint64 // discarded: slot already buffered
	Evicted    uint64 // discarded: capacity overflow, oldest dropped
	LatePurged uint64 // discarded: missed their slot by more than the delay
	Delivered  uint64 // real frames handed to playback
	Concealed  uint64 // silence substitutes handed to playback
	IdlePulls  uint64 // pulls with nothing due
	Resyncs    uint64 // re-anchors after pauses or sender restarts
	Jumps      uint64 // fast-forwards past gaps wider than the buffer
	Depth      int    // entries currently buffered
}

// Config parameterizes a Buffer.
type Config struct {
	// Interval is the stream's frame interval, the wall-clock time one
	// chunk represents.
	Interval time.Duration

	// Delay is the playout delay added to every frame's schedule. Zero
	// selects DefaultDelay; negative is an error.
	Delay time.Duration

	// ChunkBytes is the constant chunk size. Silence substitutes are
	// exactly this large.
	ChunkBytes int

	// Clock supplies time. Nil selects the system clock.
	Clock Clock
}

type entry struct {
	frame   wire.Frame
	arrived time.Time
	due     time.Time
}

// Buffer reorders, schedules, and conceals a stream of frames. Safe for
// concurrent use by one inserting goroutine and one pulling goroutine.
type Buffer struct {
	mu sync.Mutex

	interval time.Duration
	delay    time.Duration
	resync   time.Duration
	capacity int
	clock    Clock
	silence  []byte
	log      *logrus.Entry

	entries map[uint32]entry

	anchored  bool
	epoch     time.Time
	anchorSeq uint32
	next      uint32
	delivered bool
	lastSlot  time.Time

	stats Stats
}

// New creates a Buffer for the given stream timing. Capacity is derived
// from the delay: twice the delay's worth of chunks, never fewer than 8.
func New(cfg Config) (*Buffer, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.ChunkBytes <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunk, cfg.ChunkBytes)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelay, cfg.Delay)
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	capacity := int(2 * cfg.Delay / cfg.Interval)
	if capacity < 8 {
		capacity = 8
	}

	resync := 4 * cfg.Delay
	if resync < time.Second {
		resync = time.Second
	}

	b := &Buffer{
		interval: cfg.Interval,
		delay:    cfg.Delay,
		resync:   resync,
		capacity: capacity,
		clock:    cfg.Clock,
		silence:  make([]byte, cfg.ChunkBytes),
		entries:  make(map[uint32]entry),
		log: logrus.WithFields(logrus.Fields{
			"component": "jitter",
			"delay":     cfg.Delay,
			"interval":  cfg.Interval,
		}),
	}

	b.log.WithFields(logrus.Fields{
		"capacity":      capacity,
		"resync_window": resync,
	}).Debug("jitter buffer created")

	return b, nil
}

// Delay returns the configured playout delay.
func (b *Buffer) Delay() time.Duration {
	return b.delay
}

// Insert files an arriving frame into its sequence slot. Keepalives never
// enter the buffer. Stale frames, far-future frames, duplicates, and
// overflow are discarded and counted; every accepted frame gets the
// playout time its sequence owes it.
func (b *Buffer) Insert(f wire.Frame) {
	if f.Keepalive() {
		return
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.anchored {
		b.anchor(f, now)
		b.log.WithFields(logrus.Fields{
			"seq":   f.Seq,
			"epoch": now,
		}).Info("stream anchored")
		return
	}

	if b.resyncDue(f, now) {
		b.stats.Resyncs++
		b.log.WithFields(logrus.Fields{
			"seq":      f.Seq,
			"previous": b.next,
		}).Info("re-anchoring after stream discontinuity")
		b.entries = make(map[uint32]entry)
		b.delivered = false
		b.anchor(f, now)
		return
	}

	// A slot scheduled beyond the resync window cannot join the current
	// schedule. Buffering it would park the buffer behind a frame that
	// never comes due and never expires.
	if due := b.dueAt(f.Seq); due.Sub(now) > b.resync {
		b.stats.FarFuture++
		b.log.WithFields(logrus.Fields{
			"seq": f.Seq,
			"due": due,
		}).Warn("far-future frame discarded")
		return
	}

	if wire.SeqBefore(f.Seq, b.next) {
		if b.delivered {
			b.stats.Stale++
			b.log.WithFields(logrus.Fields{
				"seq":  f.Seq,
				"next": b.next,
			}).Debug("stale frame discarded")
			return
		}
		// Playback has not started yet: widen the window backward so
		// the earliest buffered frame plays first.
		b.next = f.Seq
	}

	if _, dup := b.entries[f.Seq]; dup {
		b.stats.Duplicates++
		return
	}

	if len(b.entries) >= b.capacity {
		b.evictOldest()
	}

	b.entries[f.Seq] = entry{frame: f, arrived: now, due: b.dueAt(f.Seq)}
	b.stats.Inserted++
}

// Pull produces exactly one chunk for the playback device: the next slot's
// real frame once it is due, a single silence substitute for a slot whose
// frame is lost, or idle silence when nothing is due. Consumed slots
// strictly increase (modulo wrap); idle silence consumes nothing.
func (b *Buffer) Pull() Pull {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.purgeLate(now)

	if !b.anchored || len(b.entries) == 0 {
		b.stats.IdlePulls++
		return Pull{PCM: b.silence, Kind: PullIdle}
	}

	b.maybeJump()

	if e, ok := b.entries[b.next]; ok {
		if now.Before(e.due) {
			b.stats.IdlePulls++
			return Pull{PCM: b.silence, Kind: PullIdle}
		}
		seq := b.next
		delete(b.entries, seq)
		b.consume(now)
		b.stats.Delivered++
		return Pull{PCM: e.frame.PCM, Seq: seq, Kind: PullFrame}
	}

	// The next slot's frame is missing while later ones are buffered.
	// Its own deadline is the bounded wait: once that passes, the frame
	// is declared lost and its slot is filled with silence.
	if now.Before(b.dueAt(b.next)) {
		b.stats.IdlePulls++
		return Pull{PCM: b.silence, Kind: PullIdle}
	}

	seq := b.next
	b.consume(now)
	b.stats.Concealed++
	b.log.WithField("seq", seq).Debug("lost frame concealed")
	return Pull{PCM: b.silence, Seq: seq, Kind: PullConcealed}
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats
	s.Depth = len(b.entries)
	return s
}

// anchor starts a fresh schedule at the given frame. Caller holds the lock.
func (b *Buffer) anchor(f wire.Frame, now time.Time) {
	b.anchored = true
	b.epoch = now
	b.anchorSeq = f.Seq
	b.next = f.Seq
	b.entries[f.Seq] = entry{frame: f, arrived: now, due: now.Add(b.delay)}
	b.stats.Inserted++
}

// dueAt returns the scheduled playout time a sequence owes. Caller holds
// the lock.
func (b *Buffer) dueAt(seq uint32) time.Time {
	d := wire.SeqDelta(b.anchorSeq, seq)
	return b.epoch.Add(time.Duration(d)*b.interval + b.delay)
}

// consume advances past the current slot. Caller holds the lock.
func (b *Buffer) consume(now time.Time) {
	b.next++
	b.delivered = true
	b.lastSlot = now
}

// resyncDue reports whether an arriving frame should re-anchor the
// schedule. That happens only once the buffer has sat empty past the
// resync window and the frame cannot join the current schedule: its
// sequence regressed (sender restart) or its slot is hopelessly in the
// past or future (long pause). Caller holds the lock.
func (b *Buffer) resyncDue(f wire.Frame, now time.Time) bool {
	if !b.delivered || len(b.entries) != 0 {
		return false
	}
	if now.Sub(b.lastSlot) < b.resync {
		return false
	}

	due := b.dueAt(f.Seq)
	stale := wire.SeqBefore(f.Seq, b.next)
	late := now.After(due.Add(b.delay))
	future := due.Sub(now) > b.resync
	return stale || late || future
}

// maybeJump fast-forwards past a gap wider than the buffer could ever
// conceal slot-by-slot, typically after a one-way outage during which the
// sender kept counting. Caller holds the lock.
func (b *Buffer) maybeJump() {
	if _, ok := b.entries[b.next]; ok {
		return
	}

	oldest, ok := b.oldestSeq()
	if !ok {
		return
	}

	if d := wire.SeqDelta(b.next, oldest); d > int32(b.capacity) {
		b.stats.Jumps++
		b.log.WithFields(logrus.Fields{
			"from": b.next,
			"to":   oldest,
			"gap":  d,
		}).Info("fast-forwarding past gap")
		b.next = oldest
	}
}

// oldestSeq returns the smallest buffered sequence under modular order.
// Caller holds the lock.
func (b *Buffer) oldestSeq() (uint32, bool) {
	var oldest uint32
	found := false
	for seq := range b.entries {
		if !found || wire.SeqBefore(seq, oldest) {
			oldest = seq
			found = true
		}
	}
	return oldest, found
}

// evictOldest drops the earliest buffered frame to make room. Caller holds
// the lock.
func (b *Buffer) evictOldest() {
	if oldest, ok := b.oldestSeq(); ok {
		delete(b.entries, oldest)
		b.stats.Evicted++
		b.log.WithField("seq", oldest).Debug("evicted oldest frame on overflow")
	}
}

// purgeLate drops entries that missed their playout window by more than
// the delay. Caller holds the lock.
func (b *Buffer) purgeLate(now time.Time) {
	cutoff := now.Add(-b.delay)
	for seq, e := range b.entries {
		if e.due.Before(cutoff) {
			delete(b.entries, seq)
			b.stats.LatePurged++
			b.log.WithField("seq", seq).Debug("purged frame past its window")
		}
	}
}
