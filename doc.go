// Package wavelink streams live audio between two hosts over UDP with a
// small, fixed playout delay.
//
// One host runs a Sender, which captures PCM from a local input device,
// stamps each chunk with a sequence number, and transmits it as a single
// datagram. The other runs a Receiver, which reorders arriving frames in
// a jitter buffer, conceals losses with silence, and plays the result
// through a local output device. Latency is governed by the playout
// delay rather than by network worst cases: a frame that misses its
// deadline is skipped, never waited for.
//
// # Getting Started
//
// Open a device provider, configure a role, and run it until the context
// is canceled:
//
//	provider, err := miniaudio.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	opts := wavelink.NewOptions()
//	opts.PeerAddr = "198.51.100.7:9999"
//	opts.Devices = provider
//
//	sender, err := wavelink.NewSender(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = sender.Run(ctx)
//
// The receiving side is symmetric:
//
//	opts := wavelink.NewOptions()
//	opts.ListenAddr = ":9999"
//	opts.Devices = provider
//
//	receiver, err := wavelink.NewReceiver(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = receiver.Run(ctx)
//
// Run blocks until the context is canceled, the configured duration
// elapses, or a fatal fault occurs (device removal, peer silence past
// the timeout). Resources are released on every return path.
//
// # Core Types
//
// The package defines several core types:
//
//   - [Sender]: Captures local audio and transmits it to one peer
//   - [Receiver]: Receives, reorders, and plays a peer's audio
//   - [Options]: Shared configuration for both roles
//   - [SenderStats], [ReceiverStats]: Point-in-time session counters
//
// # Stream Contract
//
// Both ends must agree on the stream shape (sample rate, channel count,
// sample format, chunk size) out of band; the wire protocol carries no
// negotiation. A receiver configured differently from its sender rejects
// every frame as malformed rather than playing garbled audio.
//
// Audio travels as raw PCM, one captured chunk per datagram. The default
// shape (48 kHz mono, 16-bit, 10 ms chunks) keeps datagrams under a
// kilobyte.
package wavelink
