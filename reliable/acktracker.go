package reliable

import "github.com/nickolajgrishuk/reliproto-go/seqid"

// AckTracker is the bounded FIFO of recv ids awaiting transmission back to
// the peer. On overflow the engine drains it via forced
// standalone ACK emission before pushing further; AckTracker
// itself only tracks membership and order.
type AckTracker struct {
	capacity int
	ids      []seqid.ID
}

// NewAckTracker returns an empty tracker bounded at capacity entries.
func NewAckTracker(capacity int) *AckTracker {
	return &AckTracker{capacity: capacity}
}

// Len returns the number of ids currently waiting to be acknowledged.
func (t *AckTracker) Len() int {
	return len(t.ids)
}

// Full reports whether the tracker is at capacity.
func (t *AckTracker) Full() bool {
	return len(t.ids) >= t.capacity
}

// Push enqueues id. Callers should check Full and force a drain first;
// Push itself does not evict, to keep "what got dropped" explicit at the
// call site rather than silent.
func (t *AckTracker) Push(id seqid.ID) {
	t.ids = append(t.ids, id)
}

// Peek returns up to max ids from the front of the queue, oldest first,
// without removing them.
func (t *AckTracker) Peek(max int) []seqid.ID {
	if max > len(t.ids) {
		max = len(t.ids)
	}
	out := make([]seqid.ID, max)
	copy(out, t.ids[:max])
	return out
}

// Drain removes the first n ids from the queue.
func (t *AckTracker) Drain(n int) {
	if n > len(t.ids) {
		n = len(t.ids)
	}
	t.ids = t.ids[n:]
}
