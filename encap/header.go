// Package encap is a concrete outer protocol: it implements the four
// encapsulate/decapsulate/generate_ack/net_send hooks the stack engine
// delegates wire framing to, plus the frame.Descriptors
// contract. The stack engine never imports this package; encap
// imports stack, seqid and packet.
//
// Wire format is adapted from core/packet.go's header+CRC32
// trailer layout, extended with a session-id field (session/key-ID and
// HMAC framing are wire details the core delegates entirely to the outer
// protocol) and an inline ACK list for piggybacking.
package encap

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

const (
	wireMagic   = 0xBEEF
	wireVersion = 1

	flagRaw        = 0x01
	flagAckOnly    = 0x02
	flagCompressed = 0x04

	// fixedHeaderSize covers Magic+Version+Flags+SessionID+SeqID+AckCount+
	// PayloadLen, before the variable-length ack list and payload.
	fixedHeaderSize = 2 + 1 + 1 + 16 + 4 + 1 + 2
	crcTrailerSize  = 4

	// maxAcksPerPacket bounds how many ids a single packet piggybacks;
	// AckCount is one byte but the stack's own max_ack_list is typically
	// far smaller, so this is just a wire sanity cap.
	maxAcksPerPacket = 32
)

type wireHeader struct {
	flags     uint8
	sessionID uuid.UUID
	seq       uint32
	acks      []uint32
}

func (h wireHeader) isRaw() bool        { return h.flags&flagRaw != 0 }
func (h wireHeader) isAckOnly() bool    { return h.flags&flagAckOnly != 0 }
func (h wireHeader) isCompressed() bool { return h.flags&flagCompressed != 0 }

// serialize builds [header][acks][payload][crc32]. CRC32 is computed over
// everything that precedes it, IEEE polynomial — the same algorithm the
// teacher hand-rolled a lookup table for in core/crc32.go; hash/crc32 is
// the standard library's binding for exactly that algorithm, so there is
// no ecosystem library to prefer over it here (see DESIGN.md).
func serialize(h wireHeader, payload []byte) ([]byte, error) {
	if len(h.acks) > maxAcksPerPacket {
		return nil, errors.New("encap: too many piggybacked acks")
	}
	if len(payload) > 1<<16-1 {
		return nil, errors.New("encap: payload too large")
	}

	size := fixedHeaderSize + len(h.acks)*4 + len(payload) + crcTrailerSize
	buf := make([]byte, size)

	off := 0
	binary.BigEndian.PutUint16(buf[off:], wireMagic)
	off += 2
	buf[off] = wireVersion
	off++
	buf[off] = h.flags
	off++
	copy(buf[off:off+16], h.sessionID[:])
	off += 16
	binary.BigEndian.PutUint32(buf[off:], h.seq)
	off += 4
	buf[off] = uint8(len(h.acks))
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(payload)))
	off += 2
	for _, id := range h.acks {
		binary.BigEndian.PutUint32(buf[off:], id)
		off += 4
	}
	copy(buf[off:off+len(payload)], payload)
	off += len(payload)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], crc)

	return buf, nil
}

func deserialize(data []byte) (wireHeader, []byte, error) {
	if len(data) < fixedHeaderSize+crcTrailerSize {
		return wireHeader{}, nil, errors.New("encap: packet too short")
	}

	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != wireMagic {
		return wireHeader{}, nil, errors.New("encap: bad magic")
	}
	if data[2] != wireVersion {
		return wireHeader{}, nil, errors.New("encap: unsupported version")
	}

	h := wireHeader{flags: data[3]}
	copy(h.sessionID[:], data[4:20])
	h.seq = binary.BigEndian.Uint32(data[20:24])
	ackCount := int(data[24])
	payloadLen := int(binary.BigEndian.Uint16(data[25:27]))

	off := fixedHeaderSize
	if len(data) < off+ackCount*4 {
		return wireHeader{}, nil, errors.New("encap: truncated ack list")
	}
	h.acks = make([]uint32, ackCount)
	for i := 0; i < ackCount; i++ {
		h.acks[i] = binary.BigEndian.Uint32(data[off:])
		off += 4
	}

	if len(data) < off+payloadLen+crcTrailerSize {
		return wireHeader{}, nil, errors.New("encap: truncated payload")
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[off:off+payloadLen])
	off += payloadLen

	gotCRC := binary.BigEndian.Uint32(data[off:])
	wantCRC := crc32.ChecksumIEEE(data[:off])
	if gotCRC != wantCRC {
		return wireHeader{}, nil, errors.New("encap: CRC32 mismatch")
	}

	return h, payload, nil
}

func idsToUint32(ids []seqid.ID, limit int) []uint32 {
	if len(ids) < limit {
		limit = len(ids)
	}
	out := make([]uint32, limit)
	for i := 0; i < limit; i++ {
		out[i] = uint32(ids[i])
	}
	return out
}

func uint32sToIDs(vals []uint32) []seqid.ID {
	out := make([]seqid.ID, len(vals))
	for i, v := range vals {
		out[i] = seqid.ID(v)
	}
	return out
}
