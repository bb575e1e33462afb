package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TCPRecvState drives TCPConnection's streaming frame reader.
type TCPRecvState int

const (
	StateIdle TCPRecvState = iota
	StateReadingLength
	StateReadingBody
	StateReady
)

// TCPConnection wraps a net.Conn with a state machine that reassembles
// length-prefixed frames out of a TCP byte stream; each TCPRecv call blocks
// until one whole frame is read. If a read fails partway, the state returns
// to idle and the partly read frame is discarded.
// Adapted from the original TCPConnection state machine, generalized from
// its fixed packet-header fields to a plain 4-byte length prefix around an
// opaque frame (the wire format itself is encap's concern, not transport's).
type TCPConnection struct {
	conn   net.Conn
	state  TCPRecvState
	lenBuf [4]byte
	body   []byte
	mu     sync.Mutex
}

const (
	TCPRecvBufferSize = 64 * 1024
	TCPBacklog        = 10
)

// TCPListen creates a TCP listener bound to port with SO_REUSEADDR set.
func TCPListen(port uint16) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	addr := &net.TCPAddr{IP: net.IPv4zero, Port: int(port)}
	return lc.Listen(context.Background(), "tcp", addr.String())
}

// TCPAccept accepts one connection.
func TCPAccept(listener net.Listener) (net.Conn, error) {
	return listener.Accept()
}

// TCPConnect dials a TCP peer with a 10s connect timeout.
func TCPConnect(host string, port uint16) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return net.DialTimeout("tcp", addr, 10*time.Second)
}

// NewTCPConnection wraps conn with a fresh frame reader.
func NewTCPConnection(conn net.Conn) *TCPConnection {
	return &TCPConnection{conn: conn}
}

func (c *TCPConnection) readExact(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := c.conn.Read(buf[total:])
		if n == 0 && err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
		total += n
	}
	return nil
}

// TCPRecv reads one complete length-prefixed frame, blocking until it is
// fully read.
func TCPRecv(c *TCPConnection) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		switch c.state {
		case StateIdle:
			c.state = StateReadingLength

		case StateReadingLength:
			if err := c.readExact(c.lenBuf[:]); err != nil {
				c.state = StateIdle
				return nil, err
			}
			size := binary.BigEndian.Uint32(c.lenBuf[:])
			c.body = make([]byte, size)
			c.state = StateReadingBody

		case StateReadingBody:
			if err := c.readExact(c.body); err != nil {
				c.state = StateIdle
				return nil, err
			}
			c.state = StateReady

		case StateReady:
			out := c.body
			c.state = StateIdle
			c.body = nil
			return out, nil
		}
	}
}

// TCPSend writes one length-prefixed frame.
func TCPSend(conn net.Conn, frame []byte) (int, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	n, err := conn.Write(frame)
	return n + 4, err
}

// TCPClose closes the underlying connection.
func TCPClose(conn net.Conn) error {
	return conn.Close()
}
