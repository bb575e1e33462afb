// Command tunnel-server accepts UDP datagrams from any number of clients,
// running one stack.Engine per remote address and echoing back whatever
// cleartext it receives. Adapted from examples/udp-server/main.go's
// bind-and-echo loop, generalized from a single stateless echo handler to
// one full session (handshake, reliability windows, SSL) per client.
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
	"github.com/nickolajgrishuk/reliproto-go/cmd/internal/demo"
	"github.com/nickolajgrishuk/reliproto-go/encap"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
	"github.com/nickolajgrishuk/reliproto-go/sslengine/tlsadapter"
	"github.com/nickolajgrishuk/reliproto-go/stack"
	"github.com/nickolajgrishuk/reliproto-go/stats"
	"github.com/nickolajgrishuk/reliproto-go/transport"
)

// session bundles one client's engine, codec and fragment reassembler.
type session struct {
	eng         *stack.Engine
	reassembler *encap.Reassembler
	addr        *net.UDPAddr
}

type echoDelivery struct {
	log *logrus.Entry
	eng **stack.Engine
}

func (d echoDelivery) AppRecv(buf []byte) {
	d.log.Infof("app recv: %s", string(buf))
	(*d.eng).AppSend([]byte(fmt.Sprintf("echo: %s", string(buf))))
}

func (d echoDelivery) RawRecv(pkt packet.Packet) {
	d.log.Infof("raw recv: %d bytes", pkt.Len())
	pkt.Reset()
}

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

func main() {
	port := flag.Uint("port", 9443, "listen port")
	flag.Parse()
	if *port > 65535 {
		logrus.Fatalf("port %d exceeds maximum value 65535", *port)
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	conn, err := transport.UDPBind(uint16(*port))
	if err != nil {
		log.Fatalf("bind: %v", err)
	}
	defer conn.Close()

	cert, err := demo.SelfSignedCert("tunnel-server")
	if err != nil {
		log.Fatalf("generate cert: %v", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	mtu, err := transport.UDPGetMTU(conn)
	if err != nil {
		mtu = transport.DefaultMTU
	}

	log.Infof("tunnel-server listening on :%d", *port)

	sessions := make(map[string]*session)

	recvCh := make(chan datagram, 256)
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	pumpTicker := time.NewTicker(50 * time.Millisecond)
	defer pumpTicker.Stop()

	newSession := func(addr *net.UDPAddr) (*session, error) {
		key := addr.String()
		sessLog := log.WithField("peer", key)
		sessionID := uuid.New()
		var groupID uint32

		transmit := func(buf []byte) error {
			frags, err := encap.FragmentIfNeeded(buf, mtu, groupID)
			if err != nil {
				return err
			}
			groupID++
			if frags == nil {
				_, err := transport.UDPSend(conn, buf, addr)
				return err
			}
			for _, f := range frags {
				if _, err := transport.UDPSend(conn, f, addr); err != nil {
					return err
				}
			}
			return nil
		}

		codec := encap.NewCodec(sessionID, transmit)
		s := &session{reassembler: encap.NewReassembler(), addr: addr}
		delivery := echoDelivery{log: sessLog, eng: &s.eng}

		eng, err := stack.New(stack.Config{
			SSLFactory: func() (sslengine.Engine, error) {
				return tlsadapter.NewServer(tlsCfg), nil
			},
			Clock:          clock.System{},
			Frames:         codec,
			Stats:          stats.Noop{},
			Protocol:       codec,
			Delivery:       delivery,
			Span:           64,
			MaxAckList:     32,
			RetransmitBase: 250 * time.Millisecond,
			RetransmitMax:  8 * time.Second,
			InvalidateCallback: func() {
				sessLog.Warn("session invalidated")
				delete(sessions, key)
			},
			Logger: sessLog,
		})
		if err != nil {
			return nil, err
		}
		s.eng = eng
		if err := eng.StartHandshake(); err != nil {
			return nil, err
		}
		sessions[key] = s
		sessLog.Info("new session, handshake started")
		return s, nil
	}

	for {
		select {
		case m, ok := <-recvCh:
			if !ok {
				log.Warn("receive loop exited")
				return
			}

			key := m.addr.String()
			s, ok := sessions[key]
			if !ok {
				var err error
				s, err = newSession(m.addr)
				if err != nil {
					log.Warnf("create session for %s: %v", key, err)
					continue
				}
			}

			buf := m.data
			if encap.IsFragment(buf) {
				whole, complete, err := s.reassembler.Accept(buf)
				if err != nil {
					log.Warnf("reassembly from %s: %v", key, err)
					continue
				}
				if !complete {
					continue
				}
				buf = whole
			}
			if err := s.eng.NetRecv(packet.Wrap(buf, false)); err != nil {
				log.Warnf("net recv from %s: %v", key, err)
			}

		case <-pumpTicker.C:
			now := time.Now()
			for key, s := range sessions {
				if s.eng.Invalidated() {
					delete(sessions, key)
					continue
				}
				if err := s.eng.Flush(); err != nil {
					log.Warnf("flush %s: %v", key, err)
				}
				if err := s.eng.Retransmit(now); err != nil {
					log.Warnf("retransmit %s: %v", key, err)
				}
				if err := s.eng.SendPendingAcks(); err != nil {
					log.Warnf("send pending acks %s: %v", key, err)
				}
				s.reassembler.EvictExpired(now)
			}

		case <-sigChan:
			log.Info("shutting down")
			return
		}
	}
}
