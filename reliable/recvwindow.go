package reliable

import (
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

type recvSlot struct {
	occupied bool
	msg      RecvMessage
}

// RecvWindow is the reorder buffer over ids [expectedID, expectedID+span)
// Adapted from the recvWindow bitmap
// (transport/reliable.go), generalized to hold the reordered Packet itself
// rather than just a seen/unseen bit, since the core must deliver payloads
// in order rather than simply acknowledging them.
type RecvWindow struct {
	span       uint32
	expectedID seqid.ID
	slots      []recvSlot
}

// NewRecvWindow returns an empty RecvWindow expecting id 0 first.
func NewRecvWindow(span uint32) *RecvWindow {
	return &RecvWindow{span: span, slots: make([]recvSlot, span)}
}

// Accept stores pkt under id if it falls inside the window and has not
// already been delivered or buffered; returns whether it was accepted.
func (w *RecvWindow) Accept(id seqid.ID, pkt packet.Packet) bool {
	if !seqid.InRange(id, w.expectedID, w.span) {
		return false
	}
	idx := uint32(id) % w.span
	if w.slots[idx].occupied {
		return false
	}
	w.slots[idx] = recvSlot{occupied: true, msg: RecvMessage{ID: id, Pkt: pkt}}
	return true
}

// Ready reports whether the message at expectedID has arrived.
func (w *RecvWindow) Ready() bool {
	idx := uint32(w.expectedID) % w.span
	return w.slots[idx].occupied
}

// NextSequenced returns a reference to the ready message at expectedID.
func (w *RecvWindow) NextSequenced() (*RecvMessage, bool) {
	idx := uint32(w.expectedID) % w.span
	if !w.slots[idx].occupied {
		return nil, false
	}
	return &w.slots[idx].msg, true
}

// Advance slides the window forward by one, clearing the delivered slot.
func (w *RecvWindow) Advance() {
	idx := uint32(w.expectedID) % w.span
	w.slots[idx] = recvSlot{}
	w.expectedID++
}

// ExpectedID returns the id the window is currently waiting for.
func (w *RecvWindow) ExpectedID() seqid.ID {
	return w.expectedID
}
