package stack

import (
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

// DecapResult is what Decapsulate hands back to the engine: the peer's
// piggybacked ACKs (to remove from our send window), the sender's sequence
// id for this payload, and the payload itself.
type DecapResult struct {
	PeerAcks []seqid.ID
	RecvID   seqid.ID
	Payload  packet.Packet
}

// Protocol is the four wire-framing hooks the outer protocol supplies.
// None of these are reentered by the engine concurrently; it calls them
// synchronously on the caller's stack.
type Protocol interface {
	// Encapsulate wraps payload with framing that includes id and as many
	// pendingAcks as fit; it reports how many of pendingAcks it consumed
	// so the engine can drain them from the ACK tracker. Errors here are
	// fatal.
	Encapsulate(id seqid.ID, payload packet.Packet, pendingAcks []seqid.ID) (wire packet.Packet, piggybacked int, err error)

	// Decapsulate verifies and decodes a received wire packet. Errors here
	// are per-packet transient: they propagate to the caller of NetRecv
	// but must not invalidate the session.
	Decapsulate(wire packet.Packet) (DecapResult, error)

	// GenerateAck produces a standalone ACK packet from pendingAcks,
	// draining at least one and reporting how many it consumed. Errors
	// here are fatal, via the same encapsulation path.
	GenerateAck(pendingAcks []seqid.ID) (wire packet.Packet, drained int, err error)

	// NetSend transmits wire to the peer. It must not mutate or retain
	// ownership of wire unless it copies. A transport error here is
	// neither of the two session-fatal kinds; the engine propagates it
	// to the caller without invalidating.
	NetSend(wire packet.Packet) error
}

// Delivery is the outward delivery pair: where decrypted cleartext and
// accepted raw packets land once the up path has reordered them.
type Delivery interface {
	// AppRecv delivers cleartext in the exact order the peer's AppSend
	// supplied it.
	AppRecv(buf []byte)
	// RawRecv delivers a raw packet in peer send order. The callee may
	// steal pkt's buffer provided it resets pkt afterward.
	RawRecv(pkt packet.Packet)
}
