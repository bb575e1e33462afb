// Command tunnel-client drives one stack.Engine as a TLS client over UDP,
// sending a periodic cleartext message to tunnel-server and logging
// whatever it receives back. Adapted from examples/udp-client/main.go:
// flag-parsed host/port, os/signal-driven graceful shutdown, and a
// time.Ticker send loop, rebuilt around stack.Engine's single-goroutine
// event loop contract instead of overproto's global Init/Send API.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nickolajgrishuk/reliproto-go/clock"
	"github.com/nickolajgrishuk/reliproto-go/encap"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
	"github.com/nickolajgrishuk/reliproto-go/sslengine/tlsadapter"
	"github.com/nickolajgrishuk/reliproto-go/stack"
	"github.com/nickolajgrishuk/reliproto-go/stats"
	"github.com/nickolajgrishuk/reliproto-go/transport"
)

type recvDelivery struct {
	log *logrus.Entry
}

func (d recvDelivery) AppRecv(buf []byte) {
	d.log.Infof("app recv: %s", string(buf))
}

func (d recvDelivery) RawRecv(pkt packet.Packet) {
	d.log.Infof("raw recv: %d bytes", pkt.Len())
	pkt.Reset()
}

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

func main() {
	var (
		host = flag.String("host", "127.0.0.1", "server host")
		port = flag.Uint("port", 9443, "server port")
	)
	flag.Parse()
	if *port > 65535 {
		logrus.Fatalf("port %d exceeds maximum value 65535", *port)
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	conn, err := transport.UDPConnect(*host, uint16(*port))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	mtu, err := transport.UDPGetMTU(conn)
	if err != nil {
		mtu = transport.DefaultMTU
	}

	sessionID := uuid.New()
	var groupID uint32

	transmit := func(buf []byte) error {
		frags, err := encap.FragmentIfNeeded(buf, mtu, groupID)
		if err != nil {
			return err
		}
		groupID++
		if frags == nil {
			_, err := transport.UDPSend(conn, buf, nil)
			return err
		}
		for _, f := range frags {
			if _, err := transport.UDPSend(conn, f, nil); err != nil {
				return err
			}
		}
		return nil
	}

	codec := encap.NewCodec(sessionID, transmit)

	eng, err := stack.New(stack.Config{
		SSLFactory: func() (sslengine.Engine, error) {
			return tlsadapter.NewClient(&tls.Config{InsecureSkipVerify: true}), nil
		},
		Clock:          clock.System{},
		Frames:         codec,
		Stats:          stats.Noop{},
		Protocol:       codec,
		Delivery:       recvDelivery{log: log},
		Span:           64,
		MaxAckList:     32,
		RetransmitBase: 250 * time.Millisecond,
		RetransmitMax:  8 * time.Second,
		InvalidateCallback: func() {
			log.Error("session invalidated")
		},
		Logger: log,
	})
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}

	if err := eng.StartHandshake(); err != nil {
		log.Fatalf("start handshake: %v", err)
	}

	recvCh := make(chan datagram, 64)
	go func() {
		for {
			buf, addr, err := transport.UDPRecv(conn)
			if err != nil {
				log.Warnf("udp recv: %v", err)
				close(recvCh)
				return
			}
			recvCh <- datagram{data: buf, addr: addr}
		}
	}()

	reassembler := encap.NewReassembler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sendTicker := time.NewTicker(2 * time.Second)
	defer sendTicker.Stop()
	pumpTicker := time.NewTicker(50 * time.Millisecond)
	defer pumpTicker.Stop()

	messageNum := 0
	log.Infof("connected to %s:%d, handshake started", *host, *port)

	for {
		select {
		case m, ok := <-recvCh:
			if !ok {
				log.Warn("receive loop exited")
				return
			}
			buf := m.data
			if encap.IsFragment(buf) {
				whole, complete, err := reassembler.Accept(buf)
				if err != nil {
					log.Warnf("reassembly: %v", err)
					continue
				}
				if !complete {
					continue
				}
				buf = whole
			}
			if err := eng.NetRecv(packet.Wrap(buf, false)); err != nil {
				log.Warnf("net recv: %v", err)
			}

		case <-sendTicker.C:
			messageNum++
			eng.AppSend([]byte(fmt.Sprintf("tunnel message #%d from client", messageNum)))

		case <-pumpTicker.C:
			if err := eng.Flush(); err != nil {
				log.Warnf("flush: %v", err)
			}
			if err := eng.Retransmit(time.Now()); err != nil {
				log.Warnf("retransmit: %v", err)
			}
			if err := eng.SendPendingAcks(); err != nil {
				log.Warnf("send pending acks: %v", err)
			}
			if evicted := reassembler.EvictExpired(time.Now()); evicted > 0 {
				log.Debugf("evicted %d stale fragment groups", evicted)
			}

		case <-sigChan:
			log.Info("shutting down")
			return
		}

		if eng.Invalidated() {
			log.Error("session invalidated, exiting")
			return
		}
	}
}
