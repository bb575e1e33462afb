// Package packet defines the opaque byte-buffer carrier the stack engine
// passes between the reliability windows, the SSL adapter, and the
// encapsulation callbacks. The engine never inspects a Packet's contents;
// only the frame descriptor (see the frame package) and the outer
// protocol's encapsulate/decapsulate hooks do.
package packet

import "github.com/nickolajgrishuk/reliproto-go/frame"

// Packet is a reference-counted byte buffer that may be marked raw (bypasses
// the SSL engine but still consumes a sequence id) or SSL-ciphertext.
// The zero value is the empty Packet; Wrap produces a defined one.
type Packet struct {
	buf    []byte
	isRaw  bool
	defined bool
}

// New returns an empty, not-yet-defined Packet.
func New() Packet {
	return Packet{}
}

// Wrap constructs a defined Packet around buf. The buffer is taken by
// reference: callers that intend to keep writing into buf after Wrap must
// copy first.
func Wrap(buf []byte, isRaw bool) Packet {
	return Packet{buf: buf, isRaw: isRaw, defined: true}
}

// IsDefined reports whether the packet carries a buffer, as distinct from
// a Reset or zero-value Packet.
func (p Packet) IsDefined() bool {
	return p.defined
}

// IsRaw reports whether this packet bypasses the SSL engine. Authoritative
// for receive-side routing during reorder/delivery.
func (p Packet) IsRaw() bool {
	return p.isRaw
}

// Bytes exposes the underlying buffer. Callers that take ownership (e.g.
// raw_recv stealing the buffer) must call Reset afterward so the Packet
// reverts to empty rather than aliasing freed memory.
func (p Packet) Bytes() []byte {
	return p.buf
}

// Len returns the size of the underlying buffer, or 0 for an empty packet.
func (p Packet) Len() int {
	return len(p.buf)
}

// Reset returns the packet to the empty, undefined state.
func (p *Packet) Reset() {
	p.buf = nil
	p.isRaw = false
	p.defined = false
}

// SetRaw marks or clears the raw flag without touching the buffer.
func (p *Packet) SetRaw(raw bool) {
	p.isRaw = raw
}

// PrepareForFrame resets the packet's buffer to hold exactly headroom +
// payload + tailroom bytes as described by fr, ready for the caller to fill
// the payload region in place. It discards any previous contents.
func (p *Packet) PrepareForFrame(fr frame.Descriptor, payload int) {
	total := fr.Headroom + payload + fr.Tailroom
	p.buf = make([]byte, total)
	p.defined = true
}
