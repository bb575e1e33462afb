// Package tlsadapter binds sslengine.Engine to a real crypto/tls.Conn. It
// exists to make the stack runnable end to end; the contract explicitly treats
// "the concrete SSL library bindings" as an external collaborator the core
// only consumes through sslengine.Engine; crypto/tls is the standard
// library's binding and no example in the retrieval pack swaps in a
// third-party TLS stack for the same job (see DESIGN.md).
package tlsadapter

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nickolajgrishuk/reliproto-go/sslengine"
)

const (
	cleartextQueueDepth  = 64
	ciphertextQueueDepth = 64
	readChunkSize        = 16 * 1024
)

// Adapter drives a *tls.Conn over an in-process pipe, translating its
// blocking Read/Write calls into the non-blocking, queue-based surface
// sslengine.Engine requires.
type Adapter struct {
	conn *tls.Conn
	side *sidePipe

	once          sync.Once
	handshakeDone chan struct{}

	cleartextIn  chan []byte
	cleartextOut chan []byte
	ciphertextIn chan []byte // consumed by side.Read, fed by WriteCiphertext
	ciphertextOut chan []byte // produced by side.Write, drained by ReadCiphertext

	errOnce sync.Once
	errCh   chan error
}

// NewClient returns an Adapter driving a TLS client handshake with cfg.
func NewClient(cfg *tls.Config) *Adapter {
	a := newAdapter()
	a.conn = tls.Client(a.side, cfg)
	return a
}

// NewServer returns an Adapter driving a TLS server handshake with cfg.
func NewServer(cfg *tls.Config) *Adapter {
	a := newAdapter()
	a.conn = tls.Server(a.side, cfg)
	return a
}

func newAdapter() *Adapter {
	a := &Adapter{
		handshakeDone: make(chan struct{}),
		cleartextIn:   make(chan []byte, cleartextQueueDepth),
		cleartextOut:  make(chan []byte, cleartextQueueDepth),
		ciphertextIn:  make(chan []byte, ciphertextQueueDepth),
		ciphertextOut: make(chan []byte, ciphertextQueueDepth),
		errCh:         make(chan error, 1),
	}
	a.side = &sidePipe{in: a.ciphertextIn, out: a.ciphertextOut}
	return a
}

func (a *Adapter) fail(err error) {
	a.errOnce.Do(func() {
		a.errCh <- err
		close(a.errCh)
	})
}

func (a *Adapter) pendingFatal() error {
	select {
	case err, ok := <-a.errCh:
		if ok {
			return err
		}
	default:
	}
	return nil
}

// StartHandshake kicks off the handshake and the background pumps that
// translate blocking tls.Conn I/O into the queue-based Engine surface.
func (a *Adapter) StartHandshake() error {
	a.once.Do(func() {
		go func() {
			if err := a.conn.Handshake(); err != nil {
				a.fail(err)
			}
			close(a.handshakeDone)
		}()
		go a.writePump()
		go a.readPump()
	})
	return nil
}

func (a *Adapter) writePump() {
	for buf := range a.cleartextIn {
		if _, err := a.conn.Write(buf); err != nil {
			a.fail(err)
			return
		}
	}
}

func (a *Adapter) readPump() {
	tmp := make([]byte, readChunkSize)
	for {
		n, err := a.conn.Read(tmp)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, tmp[:n])
			a.cleartextOut <- chunk
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			a.fail(err)
			return
		}
	}
}

// WriteCleartextUnbuffered implements sslengine.Engine.
func (a *Adapter) WriteCleartextUnbuffered(p []byte) (int, error) {
	if err := a.pendingFatal(); err != nil {
		return 0, err
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.cleartextIn <- buf:
		return len(p), nil
	default:
		return 0, sslengine.ErrShouldRetry
	}
}

// ReadCiphertextReady implements sslengine.Engine.
func (a *Adapter) ReadCiphertextReady() bool {
	return len(a.ciphertextOut) > 0
}

// ReadCiphertext implements sslengine.Engine.
func (a *Adapter) ReadCiphertext() ([]byte, error) {
	if err := a.pendingFatal(); err != nil {
		return nil, err
	}
	select {
	case buf := <-a.ciphertextOut:
		return buf, nil
	default:
		return nil, sslengine.ErrShouldRetry
	}
}

// WriteCiphertext implements sslengine.Engine.
func (a *Adapter) WriteCiphertext(p []byte) error {
	if err := a.pendingFatal(); err != nil {
		return err
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.ciphertextIn <- buf:
		return nil
	default:
		return errors.New("tlsadapter: ciphertext backlog full")
	}
}

// WriteCiphertextReady implements sslengine.Engine.
func (a *Adapter) WriteCiphertextReady() bool {
	return len(a.cleartextOut) > 0
}

// ReadCleartext implements sslengine.Engine.
func (a *Adapter) ReadCleartext(buf []byte) (int, error) {
	if err := a.pendingFatal(); err != nil {
		return 0, err
	}
	select {
	case chunk := <-a.cleartextOut:
		if len(chunk) > len(buf) {
			return 0, errors.New("tlsadapter: cleartext buffer too small")
		}
		return copy(buf, chunk), nil
	default:
		return 0, sslengine.ErrShouldRetry
	}
}

// sidePipe is the net.Conn crypto/tls writes ciphertext to and reads
// ciphertext from; it has no real socket behind it, only the Adapter's
// queues.
type sidePipe struct {
	in  <-chan []byte
	out chan<- []byte
	buf []byte
}

func (s *sidePipe) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		chunk, ok := <-s.in
		if !ok {
			return 0, io.EOF
		}
		s.buf = chunk
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *sidePipe) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	s.out <- buf
	return len(p), nil
}

func (s *sidePipe) Close() error                     { return nil }
func (s *sidePipe) LocalAddr() net.Addr              { return pipeAddr{} }
func (s *sidePipe) RemoteAddr() net.Addr             { return pipeAddr{} }
func (s *sidePipe) SetDeadline(t time.Time) error     { return nil }
func (s *sidePipe) SetReadDeadline(t time.Time) error  { return nil }
func (s *sidePipe) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "reliproto-tls-pipe" }
