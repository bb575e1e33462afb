package reliable

import (
	"testing"
	"time"

	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

func TestSendWindowReadyAndFull(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewSendWindow(2, 100*time.Millisecond, time.Second)

	if !w.Ready() {
		t.Fatal("expected empty window to be ready")
	}
	if _, ok := w.Send(now); !ok {
		t.Fatal("first Send should succeed")
	}
	if _, ok := w.Send(now); !ok {
		t.Fatal("second Send should succeed")
	}
	if w.Ready() {
		t.Fatal("window should report full after span sends")
	}
	if _, ok := w.Send(now); ok {
		t.Fatal("Send should fail once the window is full")
	}
}

func TestSendWindowAckSlidesOnlyOnHead(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewSendWindow(4, 100*time.Millisecond, time.Second)

	msgs := make([]seqid.ID, 0, 3)
	for i := 0; i < 3; i++ {
		m, ok := w.Send(now)
		if !ok {
			t.Fatalf("Send %d failed", i)
		}
		msgs = append(msgs, m.ID)
	}

	// Ack the middle message out of order: window must not slide yet.
	if !w.Ack(msgs[1]) {
		t.Fatal("expected Ack(msgs[1]) to succeed")
	}
	if w.headID != 0 {
		t.Fatalf("head should not move on an out-of-order ack, got %d", w.headID)
	}

	// Ack the head: window slides past the already-acked middle message too.
	if !w.Ack(msgs[0]) {
		t.Fatal("expected Ack(msgs[0]) to succeed")
	}
	if w.headID != 2 {
		t.Fatalf("expected head to slide to 2, got %d", w.headID)
	}
}

func TestSendWindowUntilRetransmitInfiniteWhenEmpty(t *testing.T) {
	w := NewSendWindow(4, 100*time.Millisecond, time.Second)
	now := time.Unix(0, 0)
	if d := w.UntilRetransmit(now); d != InfiniteDuration {
		t.Fatalf("expected InfiniteDuration, got %v", d)
	}
}

func TestSendWindowDueForRetransmitOrdering(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewSendWindow(4, 10*time.Millisecond, time.Second)
	for i := 0; i < 3; i++ {
		if _, ok := w.Send(now); !ok {
			t.Fatalf("Send %d failed", i)
		}
	}

	later := now.Add(50 * time.Millisecond)
	due := w.DueForRetransmit(later)
	if len(due) != 3 {
		t.Fatalf("expected all 3 messages due, got %d", len(due))
	}
	for i := 1; i < len(due); i++ {
		if !(due[i-1].ID < due[i].ID) {
			t.Fatalf("expected id-ordered retransmit list, got %v then %v", due[i-1].ID, due[i].ID)
		}
	}
}

