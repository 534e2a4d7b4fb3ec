package wire

const (
	// HeaderSize is the fixed per-datagram overhead: a 4-byte sequence
	// followed by a 4-byte payload length.
	HeaderSize = 8

	// MaxDatagram is the largest UDP payload deliverable over IPv4
	// (65535 minus 20 bytes of IP header and 8 of UDP header).
	MaxDatagram = 65507

	// MaxPayload is the largest chunk a single datagram can carry.
	MaxPayload = MaxDatagram - HeaderSize
)
