package reliable

import (
	"time"

	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

type sendSlot struct {
	occupied bool
	msg      SendMessage
}

// SendWindow is the outgoing sliding window of up to span outstanding
// messages whose ids form the contiguous range [headID, nextID).
// Adapted from the fixed-size WindowSlot array
// (transport/reliable.go); the congestion-window/RTT bookkeeping and the
// internal mutex are dropped: the stack engine is the single
// synchronization point, and retransmission here is scoped to a fixed
// span with a per-message backoff, not TCP-style congestion control.
type SendWindow struct {
	span        uint32
	headID      seqid.ID
	nextID      seqid.ID
	slots       []sendSlot
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewSendWindow returns an empty SendWindow of the given span, with
// messages retransmitted starting at baseBackoff and capped at maxBackoff.
func NewSendWindow(span uint32, baseBackoff, maxBackoff time.Duration) *SendWindow {
	return &SendWindow{
		span:        span,
		slots:       make([]sendSlot, span),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Ready reports whether the window has room for one more message.
func (w *SendWindow) Ready() bool {
	return uint32(w.nextID-w.headID) < w.span
}

// Send allocates the next sequence id and returns a mutable reference to
// its slot, stamped with now and an initial retransmit deadline. Callers
// fill in Payload after encapsulation. Returns false if the window is full.
func (w *SendWindow) Send(now time.Time) (*SendMessage, bool) {
	if !w.Ready() {
		return nil, false
	}
	id := w.nextID
	w.nextID++
	idx := uint32(id) % w.span
	w.slots[idx] = sendSlot{occupied: true, msg: SendMessage{ID: id, SentAt: now}}
	msg := &w.slots[idx].msg
	msg.ResetRetransmit(now, w.baseBackoff, w.maxBackoff)
	return msg, true
}

// Ack removes the message with id from the window, out of order if
// necessary; the window only slides forward when the head id itself is
// ACKed. Returns whether id was a live outstanding message.
func (w *SendWindow) Ack(id seqid.ID) bool {
	if id < w.headID || id >= w.nextID {
		return false
	}
	idx := uint32(id) % w.span
	if !w.slots[idx].occupied || w.slots[idx].msg.ID != id {
		return false
	}
	w.slots[idx] = sendSlot{}
	for w.headID < w.nextID {
		hIdx := uint32(w.headID) % w.span
		if w.slots[hIdx].occupied {
			break
		}
		w.headID++
	}
	return true
}

// UntilRetransmit returns the minimum of every outstanding message's
// retransmit-due-time minus now, or InfiniteDuration if the window is
// empty.
func (w *SendWindow) UntilRetransmit(now time.Time) time.Duration {
	min := InfiniteDuration
	for id := w.headID; id < w.nextID; id++ {
		idx := uint32(id) % w.span
		if !w.slots[idx].occupied {
			continue
		}
		d := w.slots[idx].msg.RetransmitDue.Sub(now)
		if d < min {
			min = d
		}
	}
	return min
}

// DueForRetransmit returns, in id order, every outstanding message whose
// retransmit deadline has passed by now.
func (w *SendWindow) DueForRetransmit(now time.Time) []*SendMessage {
	var due []*SendMessage
	for id := w.headID; id < w.nextID; id++ {
		idx := uint32(id) % w.span
		if !w.slots[idx].occupied {
			continue
		}
		if w.slots[idx].msg.ReadyRetransmit(now) {
			due = append(due, &w.slots[idx].msg)
		}
	}
	return due
}

// Rearm resets msg's retransmit deadline using the window's backoff policy,
// advancing its retry count. Callers invoke this after actually
// retransmitting msg.
func (w *SendWindow) Rearm(msg *SendMessage, now time.Time) {
	msg.ResetRetransmit(now, w.baseBackoff, w.maxBackoff)
}

// Empty reports whether there are no outstanding messages.
func (w *SendWindow) Empty() bool {
	return w.headID == w.nextID
}
