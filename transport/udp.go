// Package transport is the example programs' UDP I/O driver: socket
// binding/connect helpers, SO_REUSEADDR, and MTU discovery. It sits below
// the core entirely: it moves opaque framed bytes, produced by encap and
// consumed by encap, and never parses a wire header itself.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// UDPRecvBufferSize is the receive buffer size (64KB).
	UDPRecvBufferSize = 64 * 1024

	// DefaultMTU is used when the kernel's MTU cannot be queried.
	DefaultMTU = 1400
)

// UDPBind creates a UDP socket bound to port with SO_REUSEADDR set, using
// golang.org/x/sys/unix for the socket option instead of raw syscall
// numbers.
func UDPBind(port uint16) (*net.UDPConn, error) {
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

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return nil, err
	}

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, errors.New("transport: failed to cast to UDPConn")
	}
	return udpConn, nil
}

// UDPConnect dials a UDP socket so callers can use Write/Read instead of
// WriteTo/ReadFrom.
func UDPConnect(host string, port uint16) (*net.UDPConn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, udpAddr)
}

// UDPSend writes one already-framed wire packet. If addr is nil the
// connection's connected peer is used.
func UDPSend(conn *net.UDPConn, data []byte, addr *net.UDPAddr) (int, error) {
	if addr == nil {
		return conn.Write(data)
	}
	return conn.WriteToUDP(data, addr)
}

// UDPRecv reads one datagram's raw bytes and the sender's address. Framing
// and reassembly are the caller's concern (encap.Reassembler for
// fragments, then encap.Codec.Decapsulate).
func UDPRecv(conn *net.UDPConn) ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, UDPRecvBufferSize)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, addr, nil
}

// UDPGetMTU queries IP_MTU via getsockopt, falling back to DefaultMTU when
// unavailable.
func UDPGetMTU(conn *net.UDPConn) (int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return DefaultMTU, nil
	}

	var mtu int
	var getErr error
	err = rawConn.Control(func(fd uintptr) {
		mtu, getErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU)
	})
	if err != nil || getErr != nil || mtu <= 0 {
		return DefaultMTU, nil
	}
	return mtu, nil
}
