// Package sslengine defines the contract for the pluggable SSL engine the
// stack treats as an opaque byte-stream endpoint. The stack
// never assumes packet-mode or stream-mode internals; it only drives the
// four directional byte queues described here.
package sslengine

import "errors"

// ErrShouldRetry is the sentinel a directional call returns to mean "no
// progress possible right now, try again later". It is not an error: the
// stack engine must not invalidate the session or count a statistic when it
// sees this value.
var ErrShouldRetry = errors.New("sslengine: should retry")

// Engine is a streaming TLS-like endpoint with a cleartext side (facing the
// application) and a ciphertext side (facing the network). Any other error
// returned by these methods is fatal: the caller increments SSL_ERROR,
// invalidates the session, and rethrows.
type Engine interface {
	// StartHandshake begins the handshake. Subsequent calls on the
	// ciphertext side drive it forward.
	StartHandshake() error

	// WriteCleartextUnbuffered offers cleartext bytes to the engine. It
	// returns the number of bytes accepted, or ErrShouldRetry if the
	// engine is backpressured; partial writes are not expected to occur
	// outside of that signal.
	WriteCleartextUnbuffered(p []byte) (int, error)

	// ReadCiphertextReady reports whether a ciphertext packet produced by
	// the engine is waiting to be pulled.
	ReadCiphertextReady() bool
	// ReadCiphertext pulls the next ciphertext packet the engine produced.
	// Each call corresponds to exactly one outgoing wire packet.
	ReadCiphertext() ([]byte, error)

	// WriteCiphertext feeds one received ciphertext packet into the engine.
	WriteCiphertext(p []byte) error

	// WriteCiphertextReady reports whether decrypted cleartext is waiting
	// to be pulled by ReadCleartext.
	WriteCiphertextReady() bool
	// ReadCleartext pulls decrypted cleartext into buf, returning the
	// number of bytes written, or ErrShouldRetry if none is ready yet.
	ReadCleartext(buf []byte) (int, error)
}
