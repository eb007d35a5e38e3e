package net

// Envelope is a received payload together with the address it came from.
type Envelope struct {
	From    string
	Payload []byte
}

// SecureTransport moves opaque payloads between nodes. Implementations are
// expected to secure the wire (confidentiality, integrity); authenticity of
// the content itself comes end-to-end from event signatures, so the sync
// layer asks nothing of the transport beyond delivery. A Send error means
// the destination was unreachable, not that the peer rejected anything.
type SecureTransport interface {

	// Send delivers a payload to the named destination.
	Send(payload []byte, destination string) error

	// Receive returns the channel of inbound envelopes.
	Receive() <-chan Envelope

	// LocalAddr returns the address peers reach this transport at.
	LocalAddr() string

	// Close permanently disables the transport.
	Close() error
}
