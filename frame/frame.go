// Package frame describes the buffer sizing an outer protocol requires for
// a named operation. The stack engine asks for a Descriptor by
// Context when it needs to allocate a packet; it never computes sizes
// itself, since it does not know the concrete wire framing.
package frame

// Context names a situation the engine needs buffer sizing for.
type Context int

const (
	// ContextWriteAckStandalone sizes a packet carrying only acknowledgements.
	ContextWriteAckStandalone Context = iota
	// ContextReadSSLCleartext sizes the buffer used to pull decrypted
	// cleartext out of the SSL engine in up_sequenced.
	ContextReadSSLCleartext
	// ContextSend sizes an outgoing data or raw packet before encapsulation.
	ContextSend
)

// Descriptor gives the headroom/tailroom the outer protocol's framing needs
// around a payload of a given size, plus a default payload size for
// contexts where the engine must pre-allocate before it knows the exact
// amount of data (e.g. ContextReadSSLCleartext).
type Descriptor struct {
	Headroom int
	Tailroom int
	Payload  int
}

// Descriptors answers Descriptor(ctx) for each Context the engine needs.
// Implemented by the outer protocol's encapsulation layer; the
// stack engine only consumes it.
type Descriptors interface {
	Descriptor(ctx Context) Descriptor
}
