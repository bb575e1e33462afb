package reliable

import (
	"testing"

	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

func TestRecvWindowReorder(t *testing.T) {
	w := NewRecvWindow(4)

	p1 := packet.Wrap([]byte("p1"), false)
	p2 := packet.Wrap([]byte("p2"), false)
	p3 := packet.Wrap([]byte("p3"), false)

	if !w.Accept(1, p2) {
		t.Fatal("expected p2 (id 1) to be accepted into the window")
	}
	if w.Ready() {
		t.Fatal("window should not be ready: id 0 is still missing")
	}
	if !w.Accept(2, p3) {
		t.Fatal("expected p3 (id 2) to be accepted")
	}
	if !w.Accept(0, p1) {
		t.Fatal("expected p1 (id 0) to be accepted")
	}

	var order []string
	for w.Ready() {
		m, ok := w.NextSequenced()
		if !ok {
			t.Fatal("Ready() true but NextSequenced() false")
		}
		order = append(order, string(m.Pkt.Bytes()))
		w.Advance()
	}

	if len(order) != 3 || order[0] != "p1" || order[1] != "p2" || order[2] != "p3" {
		t.Fatalf("expected delivery in sender order [p1 p2 p3], got %v", order)
	}
}

func TestRecvWindowDropsDuplicateAndOutOfWindow(t *testing.T) {
	w := NewRecvWindow(2)
	p := packet.Wrap([]byte("x"), false)

	if !w.Accept(0, p) {
		t.Fatal("first accept of id 0 should succeed")
	}
	if w.Accept(0, p) {
		t.Fatal("duplicate accept of id 0 should be dropped")
	}
	if w.Accept(5, p) {
		t.Fatal("id outside the window should be dropped")
	}
	if got := w.ExpectedID(); got != seqid.ID(0) {
		t.Fatalf("expected id still 0, got %d", got)
	}
}
