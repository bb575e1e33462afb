package stack

import (
	"errors"

	"github.com/nickolajgrishuk/reliproto-go/frame"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
)

// upStack is the up path entry point: given one wire packet received from
// the network, it decapsulates it, removes any piggybacked ACKs from our
// send window, and admits the payload into the receive window for
// reordering, then drains whatever has become in-order. Raw and SSL
// packets share the same sequence space and the same recv window: a raw
// packet arriving ahead of a gap at the window head is buffered, not
// delivered out of order (see the Open Question this preserves). The
// reentry counter held while this path runs makes Flush a no-op, so a
// callback that calls back into the engine cannot start the down path
// from inside the up path.
func (e *Engine) upStack(wire packet.Packet) error {
	e.upStackReentry++
	defer func() { e.upStackReentry-- }()

	result, err := e.protocol.Decapsulate(wire)
	if err != nil {
		// Per-packet transient: the session stays usable, the caller just
		// learns this one packet was unusable.
		return err
	}

	for _, acked := range result.PeerAcks {
		e.sendWindow.Ack(acked)
	}

	if !result.Payload.IsDefined() {
		// Standalone ACK packet: it carried no sequence id of its own to
		// acknowledge back.
		return nil
	}

	if err := e.pushAck(result.RecvID); err != nil {
		return err
	}

	if !e.recvWindow.Accept(result.RecvID, result.Payload) {
		return nil
	}

	return e.upSequenced()
}

// upSequenced drains the recv window (delivering raw packets as they come
// into order and feeding SSL packets into the SSL engine) and then pulls as
// much cleartext as the SSL engine is willing to produce, handing it to
// application delivery. It is called both from upStack's path and directly
// from StartHandshake, since a handshake can itself produce outbound data
// with no inbound packet to trigger it.
func (e *Engine) upSequenced() error {
	for e.recvWindow.Ready() {
		msg, ok := e.recvWindow.NextSequenced()
		if !ok {
			break
		}
		if msg.Pkt.IsRaw() {
			// Advance clears the slot msg points into, so keep the packet.
			pkt := msg.Pkt
			e.recvWindow.Advance()
			e.delivery.RawRecv(pkt)
			continue
		}
		if !e.sslStarted {
			// Cannot hand this ciphertext to an SSL engine that hasn't
			// started without losing order relative to later packets.
			break
		}
		if err := e.ssl.WriteCiphertext(msg.Pkt.Bytes()); err != nil {
			return e.fatalSSL(err)
		}
		e.recvWindow.Advance()
	}

	if !e.sslStarted {
		return nil
	}

	size := e.frames.Descriptor(frame.ContextReadSSLCleartext).Payload
	buf := make([]byte, size)
	for {
		n, err := e.ssl.ReadCleartext(buf)
		if errors.Is(err, sslengine.ErrShouldRetry) {
			break
		}
		if err != nil {
			return e.fatalSSL(err)
		}
		if n == 0 {
			break
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		e.delivery.AppRecv(cp)
	}
	return nil
}
