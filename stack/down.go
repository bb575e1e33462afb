package stack

import (
	"errors"

	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
)

// downRaw sequences and transmits every packet queued by RawSend, each
// getting its own id from the send window and going out immediately
// (raw packets are not subject to SSL framing).
func (e *Engine) downRaw() error {
	for len(e.rawQueue) > 0 {
		pkt := e.rawQueue[0]

		msg, ok := e.sendWindow.Send(e.clk.Now())
		if !ok {
			// Window full: leave the rest queued for a later Flush, once
			// outstanding messages are ACKed.
			break
		}
		e.rawQueue = e.rawQueue[1:]

		pending := e.ackTracker.Peek(e.ackTracker.Len())
		wire, piggybacked, err := e.protocol.Encapsulate(msg.ID, pkt, pending)
		if err != nil {
			return e.fatalEncap(err)
		}
		if piggybacked > 0 {
			e.ackTracker.Drain(piggybacked)
		}
		msg.Payload = wire

		if err := e.protocol.NetSend(wire); err != nil {
			return err
		}
	}
	return nil
}

// downAppPushCleartext offers every queued AppSend buffer to the SSL
// engine, stopping (without losing data) the first time the engine signals
// backpressure.
func (e *Engine) downAppPushCleartext() error {
	for len(e.appQueue) > 0 {
		buf := e.appQueue[0]
		n, err := e.ssl.WriteCleartextUnbuffered(buf)
		if errors.Is(err, sslengine.ErrShouldRetry) {
			break
		}
		if err != nil {
			return e.fatalSSL(err)
		}
		if n >= len(buf) {
			e.appQueue = e.appQueue[1:]
			continue
		}
		e.appQueue[0] = buf[n:]
		break
	}
	return nil
}

// downAppPullCiphertext drains every ciphertext packet the SSL engine has
// produced (from the handshake or from previously pushed cleartext),
// sequences each as its own Reliable-Send message, and transmits it.
func (e *Engine) downAppPullCiphertext() error {
	for e.ssl.ReadCiphertextReady() {
		if !e.sendWindow.Ready() {
			// Window full: leave the ciphertext queued inside the SSL
			// engine; a later flush pulls it once outstanding messages
			// are ACKed and the window has room again.
			break
		}

		payload, err := e.ssl.ReadCiphertext()
		if errors.Is(err, sslengine.ErrShouldRetry) {
			break
		}
		if err != nil {
			return e.fatalSSL(err)
		}

		msg, ok := e.sendWindow.Send(e.clk.Now())
		if !ok {
			break
		}

		pending := e.ackTracker.Peek(e.ackTracker.Len())
		wire, piggybacked, err := e.protocol.Encapsulate(msg.ID, packet.Wrap(payload, false), pending)
		if err != nil {
			return e.fatalEncap(err)
		}
		if piggybacked > 0 {
			e.ackTracker.Drain(piggybacked)
		}
		msg.Payload = wire

		if err := e.protocol.NetSend(wire); err != nil {
			return err
		}
	}
	return nil
}
