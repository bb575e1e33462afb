package sslengine

import "errors"

var errCleartextBufferTooSmall = errors.New("sslengine: cleartext buffer too small")

const fakeHandshakeMarker = 0xFE
const fakeDataTag = 0x01

// Fake is a deterministic, non-cryptographic Engine used by the stack
// engine's property tests. It simulates a one-packet handshake exchange and
// then passes cleartext through verbatim, tagged so data frames cannot be
// confused with the handshake marker on the wire. It is not a security
// boundary.
type Fake struct {
	handshakeSent bool
	peerSeen      bool
	established   bool

	outCiphertext [][]byte
	inCleartext   [][]byte

	failNextReadCleartext bool
}

// FailNextReadCleartext arms the fake to return a fatal (non-ErrShouldRetry)
// error from the next ReadCleartext call, simulating an SSL engine fault
// (used to exercise the SSL-failure-invalidates-the-session path in tests).
func (f *Fake) FailNextReadCleartext() {
	f.failNextReadCleartext = true
}

// NewFake returns a fresh, not-yet-started Fake engine.
func NewFake() *Fake {
	return &Fake{}
}

// StartHandshake queues the one outbound handshake marker this fake uses.
func (f *Fake) StartHandshake() error {
	f.handshakeSent = true
	f.outCiphertext = append(f.outCiphertext, []byte{fakeHandshakeMarker})
	return nil
}

// Established reports whether both directions of the fake handshake
// completed.
func (f *Fake) Established() bool {
	return f.established
}

// WriteCleartextUnbuffered implements Engine.
func (f *Fake) WriteCleartextUnbuffered(p []byte) (int, error) {
	if !f.established {
		return 0, ErrShouldRetry
	}
	framed := make([]byte, 1+len(p))
	framed[0] = fakeDataTag
	copy(framed[1:], p)
	f.outCiphertext = append(f.outCiphertext, framed)
	return len(p), nil
}

// ReadCiphertextReady implements Engine.
func (f *Fake) ReadCiphertextReady() bool {
	return len(f.outCiphertext) > 0
}

// ReadCiphertext implements Engine.
func (f *Fake) ReadCiphertext() ([]byte, error) {
	if len(f.outCiphertext) == 0 {
		return nil, ErrShouldRetry
	}
	next := f.outCiphertext[0]
	f.outCiphertext = f.outCiphertext[1:]
	return next, nil
}

// WriteCiphertext implements Engine.
func (f *Fake) WriteCiphertext(p []byte) error {
	if len(p) == 1 && p[0] == fakeHandshakeMarker {
		f.peerSeen = true
		if f.handshakeSent {
			f.established = true
		}
		return nil
	}
	if len(p) == 0 || p[0] != fakeDataTag {
		return errors.New("sslengine: malformed ciphertext frame")
	}
	cleartext := make([]byte, len(p)-1)
	copy(cleartext, p[1:])
	f.inCleartext = append(f.inCleartext, cleartext)
	return nil
}

// WriteCiphertextReady implements Engine.
func (f *Fake) WriteCiphertextReady() bool {
	return len(f.inCleartext) > 0
}

// ReadCleartext implements Engine.
func (f *Fake) ReadCleartext(buf []byte) (int, error) {
	if f.failNextReadCleartext {
		f.failNextReadCleartext = false
		return 0, errors.New("sslengine: injected fault")
	}
	if len(f.inCleartext) == 0 {
		return 0, ErrShouldRetry
	}
	next := f.inCleartext[0]
	if len(next) > len(buf) {
		return 0, errCleartextBufferTooSmall
	}
	n := copy(buf, next)
	f.inCleartext = f.inCleartext[1:]
	return n, nil
}
