package reliable

import (
	"time"

	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
)

// InfiniteDuration is the sentinel UntilRetransmit returns when there is
// nothing to wait for; the stack engine's NextRetransmit reports the time
// this far past the Unix epoch in that case.
const InfiniteDuration = time.Duration(1<<63 - 1)

// SendMessage is a single outstanding entry in the Reliable-Send window
// It sits in the window until its id is ACKed or the session is
// invalidated.
type SendMessage struct {
	ID         seqid.ID
	Payload    packet.Packet // post-encapsulation
	SentAt     time.Time
	RetransmitDue time.Time
	retries    uint32
}

// ReadyRetransmit reports whether now has reached this message's
// retransmit deadline.
func (m *SendMessage) ReadyRetransmit(now time.Time) bool {
	return !m.RetransmitDue.After(now)
}

// ResetRetransmit arms the next retransmit deadline using exponential
// backoff, capped at maxBackoff. Adapted from the
// ProcessTimeouts backoff loop (transport/reliable.go), with the RTT/RTO
// estimation dropped: this is a per-message backoff policy, not
// congestion control.
func (m *SendMessage) ResetRetransmit(now time.Time, base, maxBackoff time.Duration) {
	backoff := base
	for i := uint32(0); i < m.retries && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	m.retries++
	m.RetransmitDue = now.Add(backoff)
}

// RecvMessage is a single reordered entry in the Reliable-Recv window.
type RecvMessage struct {
	ID  seqid.ID
	Pkt packet.Packet
}
