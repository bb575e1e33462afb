package stack_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nickolajgrishuk/reliproto-go/clock"
	"github.com/nickolajgrishuk/reliproto-go/encap"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/reliable"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
	"github.com/nickolajgrishuk/reliproto-go/stack"
)

// recorder is a Delivery that appends whatever it receives, in order.
type recorder struct {
	cleartext [][]byte
	raw       [][]byte
}

func (r *recorder) AppRecv(buf []byte) { r.cleartext = append(r.cleartext, buf) }
func (r *recorder) RawRecv(pkt packet.Packet) {
	r.raw = append(r.raw, append([]byte(nil), pkt.Bytes()...))
}

// link is an in-memory unreliable channel between two peers. Queued wire
// packets are only delivered once drainTo is called, so a test can inspect
// or mutate (drop, reorder, duplicate) what is in flight before delivery.
type link struct {
	queued [][]byte
}

func (l *link) send(buf []byte) error {
	cp := append([]byte(nil), buf...)
	l.queued = append(l.queued, cp)
	return nil
}

func (l *link) drainTo(e *stack.Engine) error {
	pending := l.queued
	l.queued = nil
	for _, buf := range pending {
		if err := e.NetRecv(packet.Wrap(buf, false)); err != nil {
			return err
		}
	}
	return nil
}

type peer struct {
	engine          *link
	ssl             *sslengine.Fake
	eng             *stack.Engine
	recv            *recorder
	clk             *clock.Fake
	invalidateCalls int
}

func newPeer(t *testing.T, out *link) *peer {
	t.Helper()
	return newPeerWithAckCap(t, out, 4)
}

func newPeerWithAckCap(t *testing.T, out *link, maxAckList int) *peer {
	t.Helper()
	fake := sslengine.NewFake()
	rec := &recorder{}
	clk := clock.NewFake(time.Unix(1000, 0))
	p := &peer{engine: out, ssl: fake, recv: rec, clk: clk}

	codec := encap.NewCodec(uuid.New(), func(buf []byte) error { return out.send(buf) })

	cfg := stack.Config{
		SSLFactory:         func() (sslengine.Engine, error) { return fake, nil },
		Clock:              clk,
		Frames:             codec,
		Stats:              nil,
		Protocol:           codec,
		Delivery:           rec,
		Span:               8,
		MaxAckList:         maxAckList,
		RetransmitBase:     100 * time.Millisecond,
		RetransmitMax:      time.Second,
		InvalidateCallback: func() { p.invalidateCalls++ },
	}
	eng, err := stack.New(cfg)
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	p.eng = eng
	return p
}

func handshake(t *testing.T, a, b *peer, linkAB, linkBA *link) {
	t.Helper()
	if err := a.eng.StartHandshake(); err != nil {
		t.Fatalf("a.StartHandshake: %v", err)
	}
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}
	if err := b.eng.StartHandshake(); err != nil {
		t.Fatalf("b.StartHandshake: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	// Deliver both handshake markers and let each side's Flush push the
	// resulting "established" state's effects.
	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver a->b: %v", err)
	}
	if err := linkBA.drainTo(a.eng); err != nil {
		t.Fatalf("deliver b->a: %v", err)
	}
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("a.Flush after handshake: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush after handshake: %v", err)
	}

	if !a.ssl.Established() || !b.ssl.Established() {
		t.Fatalf("expected both sides established after one round trip")
	}
}

// scenario 1: handshake completes and one application message is
// delivered losslessly in both directions.
func TestHandshakeAndOneMessageLossless(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	a.eng.AppSend([]byte("hello"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}
	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	if len(b.recv.cleartext) != 1 || string(b.recv.cleartext[0]) != "hello" {
		t.Fatalf("expected b to receive [hello], got %v", b.recv.cleartext)
	}
}

// scenario 2: a packet is dropped in flight; the sender's retransmit timer
// eventually resends it and the receiver gets it exactly once.
func TestSingleDropThenRetransmit(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	a.eng.AppSend([]byte("m1"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}
	// Drop it: clear the link instead of delivering.
	linkAB.queued = nil

	a.clk.Advance(2 * time.Second)
	if err := a.eng.Retransmit(a.clk.Now()); err != nil {
		t.Fatalf("a.Retransmit: %v", err)
	}
	if len(linkAB.queued) == 0 {
		t.Fatalf("expected a retransmission to be queued")
	}
	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	if len(b.recv.cleartext) != 1 || string(b.recv.cleartext[0]) != "m1" {
		t.Fatalf("expected exactly one delivery of m1, got %v", b.recv.cleartext)
	}
}

// scenario 3: two messages arrive at the receiver in reverse wire order;
// delivery to the application must still be in sender order.
func TestReorderedDeliveryIsSenderOrdered(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	a.eng.AppSend([]byte("first"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	a.eng.AppSend([]byte("second"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("flush 2: %v", err)
	}

	if len(linkAB.queued) != 2 {
		t.Fatalf("expected 2 wire packets queued, got %d", len(linkAB.queued))
	}
	linkAB.queued[0], linkAB.queued[1] = linkAB.queued[1], linkAB.queued[0]

	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	if len(b.recv.cleartext) != 2 ||
		string(b.recv.cleartext[0]) != "first" ||
		string(b.recv.cleartext[1]) != "second" {
		t.Fatalf("expected sender-ordered [first second], got %v", b.recv.cleartext)
	}
}

// raw packets share the recv window's sequence space with SSL ciphertext:
// a raw packet that arrives out of order must wait behind the gap rather
// than being delivered immediately, and once the gap fills, raw and app
// deliveries surface in original send order.
func TestRawPacketOrderedWithRecvWindow(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	a.eng.RawSend(packet.Wrap([]byte("ctrl-1"), true))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	a.eng.AppSend([]byte("data-1"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("flush 2: %v", err)
	}

	if len(linkAB.queued) != 2 {
		t.Fatalf("expected 2 wire packets queued, got %d", len(linkAB.queued))
	}
	// Deliver the app packet before the raw one: the raw packet occupies
	// the earlier sequence id, so it must be held back until it arrives.
	linkAB.queued[0], linkAB.queued[1] = linkAB.queued[1], linkAB.queued[0]

	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	if len(b.recv.raw) != 1 || string(b.recv.raw[0]) != "ctrl-1" {
		t.Fatalf("expected raw delivery [ctrl-1], got %v", b.recv.raw)
	}
	if len(b.recv.cleartext) != 1 || string(b.recv.cleartext[0]) != "data-1" {
		t.Fatalf("expected cleartext delivery [data-1], got %v", b.recv.cleartext)
	}
}

// scenario 4: the same wire packet delivered twice (a retransmit racing a
// late original, or a duplicated network frame) must only be delivered to
// the application once.
func TestDuplicateDeliveryIsSuppressed(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	a.eng.AppSend([]byte("only-once"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(linkAB.queued) != 1 {
		t.Fatalf("expected 1 wire packet, got %d", len(linkAB.queued))
	}
	linkAB.queued = append(linkAB.queued, append([]byte(nil), linkAB.queued[0]...))

	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	if len(b.recv.cleartext) != 1 {
		t.Fatalf("expected exactly one delivery, got %d: %v", len(b.recv.cleartext), b.recv.cleartext)
	}
}

// scenario 5: b receives data but has no outgoing data to piggyback its
// ACKs on; SendPendingAcks emits them in standalone ACK packets, which a
// then absorbs.
func TestSendPendingAcksEmitsStandaloneAck(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	for i := 0; i < 3; i++ {
		a.eng.AppSend([]byte{byte('a' + i)})
		if err := a.eng.Flush(); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}
	if err := linkAB.drainTo(b.eng); err != nil {
		t.Fatalf("deliver a->b: %v", err)
	}
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}
	if err := b.eng.SendPendingAcks(); err != nil {
		t.Fatalf("b.SendPendingAcks: %v", err)
	}
	if len(linkBA.queued) == 0 {
		t.Fatalf("expected b to have emitted at least one ack packet")
	}
	if err := linkBA.drainTo(a.eng); err != nil {
		t.Fatalf("deliver b->a: %v", err)
	}
}

// invariant: the ACK tracker never exceeds MaxAckList entries. Once full,
// pushing one more recv id forces a standalone ACK emission during
// NetRecv itself, with no Flush/SendPendingAcks call required.
func TestAckTrackerOverflowForcesStandaloneDrain(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeerWithAckCap(t, linkBA, 2)
	handshake(t, a, b, linkAB, linkBA)

	for i := 0; i < 3; i++ {
		a.eng.AppSend([]byte{byte('x' + i)})
		if err := a.eng.Flush(); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
		if err := linkAB.drainTo(b.eng); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}

	// b never called Flush or SendPendingAcks itself; the third NetRecv
	// must have forced a standalone ack out once the 2-entry tracker
	// filled on the second delivery.
	if len(linkBA.queued) == 0 {
		t.Fatalf("expected NetRecv to have forced a standalone ack emission on overflow")
	}
}

// scenario 6: a fatal SSL engine error invalidates the session; the
// engine then refuses further work and next_retransmit is infinite.
func TestSSLFailureInvalidatesSession(t *testing.T) {
	linkAB := &link{}
	linkBA := &link{}
	a := newPeer(t, linkAB)
	b := newPeer(t, linkBA)
	handshake(t, a, b, linkAB, linkBA)

	// Arm a fault on a's SSL engine, then have b send a message: when a
	// receives it, up_stack writes the ciphertext in and tries to pull
	// cleartext back out, which is where the injected fault surfaces.
	a.ssl.FailNextReadCleartext()

	b.eng.AppSend([]byte("trigger"))
	if err := b.eng.Flush(); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}
	if len(linkBA.queued) == 0 {
		t.Fatalf("expected b to have a packet in flight")
	}

	err := linkBA.drainTo(a.eng)
	if err == nil {
		t.Fatalf("expected the injected SSL fault to surface as an error")
	}
	if !a.eng.Invalidated() {
		t.Fatalf("expected engine to be invalidated after a fatal SSL error")
	}
	if a.invalidateCalls != 1 {
		t.Fatalf("expected InvalidateCallback to fire exactly once, got %d", a.invalidateCalls)
	}
	if got, want := a.eng.NextRetransmit(), time.Unix(0, 0).Add(reliable.InfiniteDuration); !got.Equal(want) {
		t.Fatalf("expected NextRetransmit to be infinite after invalidation, got %v", got)
	}

	// Once invalidated, further operations are no-ops rather than panics
	// or silent progress.
	a.eng.AppSend([]byte("ignored"))
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("Flush after invalidation should not itself error: %v", err)
	}
	a.eng.Invalidate()
	if a.invalidateCalls != 1 {
		t.Fatalf("expected Invalidate to stay idempotent, got %d calls", a.invalidateCalls)
	}
}

// invariant: NextRetransmit is infinite when the send window is empty.
func TestNextRetransmitInfiniteWhenIdle(t *testing.T) {
	linkAB := &link{}
	a := newPeer(t, linkAB)
	if err := a.eng.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got, want := a.eng.NextRetransmit(), time.Unix(0, 0).Add(reliable.InfiniteDuration); !got.Equal(want) {
		t.Fatalf("expected NextRetransmit to be infinite with an empty send window, got %v", got)
	}
}

// invariant: Invalidated never reverts to false once set.
func TestInvalidatedIsMonotonic(t *testing.T) {
	linkAB := &link{}
	a := newPeer(t, linkAB)
	a.eng.Invalidate()
	a.eng.Invalidate()
	if !a.eng.Invalidated() {
		t.Fatalf("expected engine to remain invalidated")
	}
}
