package encap

import (
	"github.com/google/uuid"

	"github.com/nickolajgrishuk/reliproto-go/frame"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
	"github.com/nickolajgrishuk/reliproto-go/stack"
)

// Transmit sends one already-framed wire packet's bytes to the peer.
// Implementations typically wrap a UDP socket.
type Transmit func(buf []byte) error

// Codec is the concrete outer protocol: a stack.Protocol that frames
// packets with a session id, a sequence number, and an inline piggybacked
// ACK list, and hands the framed bytes to an injected Transmit function.
type Codec struct {
	sessionID uuid.UUID
	transmit  Transmit
}

// NewCodec returns a Codec scoped to one session, sending framed wire
// bytes through transmit.
func NewCodec(sessionID uuid.UUID, transmit Transmit) *Codec {
	return &Codec{sessionID: sessionID, transmit: transmit}
}

var (
	_ stack.Protocol    = (*Codec)(nil)
	_ frame.Descriptors = (*Codec)(nil)
)

// Descriptor implements frame.Descriptors, giving the engine the
// headroom/tailroom this wire format needs around a payload before it
// allocates.
func (c *Codec) Descriptor(ctx frame.Context) frame.Descriptor {
	switch ctx {
	case frame.ContextReadSSLCleartext:
		return frame.Descriptor{Payload: 65536}
	case frame.ContextWriteAckStandalone:
		return frame.Descriptor{Headroom: fixedHeaderSize, Tailroom: crcTrailerSize}
	default:
		return frame.Descriptor{Headroom: fixedHeaderSize, Tailroom: crcTrailerSize}
	}
}

// Encapsulate frames payload as a sequenced packet, setting the wire raw
// flag when payload is raw, with as many pendingAcks piggybacked as fit
// within maxAcksPerPacket.
func (c *Codec) Encapsulate(id seqid.ID, payload packet.Packet, pendingAcks []seqid.ID) (packet.Packet, int, error) {
	limit := maxAcksPerPacket
	acks := idsToUint32(pendingAcks, limit)

	flags := uint8(0)
	if payload.IsRaw() {
		flags |= flagRaw
	}

	body := payload.Bytes()
	if shouldCompress(len(body)) {
		if compressed, err := compressPayload(body); err == nil {
			body = compressed
			flags |= flagCompressed
		}
		// Any other error (empty payload, not effective) just falls
		// through and sends body uncompressed.
	}

	buf, err := serialize(wireHeader{
		flags:     flags,
		sessionID: c.sessionID,
		seq:       uint32(id),
		acks:      acks,
	}, body)
	if err != nil {
		return packet.Packet{}, 0, err
	}

	return packet.Wrap(buf, false), len(acks), nil
}

// Decapsulate verifies and decodes one received wire packet, returning the
// piggybacked ACKs and the carried payload (marked raw if the wire flags
// said so).
func (c *Codec) Decapsulate(wire packet.Packet) (stack.DecapResult, error) {
	h, payload, err := deserialize(wire.Bytes())
	if err != nil {
		return stack.DecapResult{}, err
	}

	result := stack.DecapResult{
		PeerAcks: uint32sToIDs(h.acks),
		RecvID:   seqid.ID(h.seq),
	}
	if !h.isAckOnly() {
		if h.isCompressed() {
			decompressed, derr := decompressPayload(payload)
			if derr != nil {
				return stack.DecapResult{}, derr
			}
			payload = decompressed
		}
		result.Payload = packet.Wrap(payload, h.isRaw())
	}
	return result, nil
}

// GenerateAck produces a standalone ACK-only packet carrying as many
// pendingAcks as fit, draining at least one.
func (c *Codec) GenerateAck(pendingAcks []seqid.ID) (packet.Packet, int, error) {
	if len(pendingAcks) == 0 {
		return packet.Packet{}, 0, nil
	}
	limit := maxAcksPerPacket
	acks := idsToUint32(pendingAcks, limit)

	buf, err := serialize(wireHeader{
		flags:     flagAckOnly,
		sessionID: c.sessionID,
		acks:      acks,
	}, nil)
	if err != nil {
		return packet.Packet{}, 0, err
	}

	return packet.Wrap(buf, false), len(acks), nil
}

// NetSend hands the framed bytes to the injected transmit function.
func (c *Codec) NetSend(wire packet.Packet) error {
	return c.transmit(wire.Bytes())
}
