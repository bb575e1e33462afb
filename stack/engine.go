// Package stack implements the protocol stack engine: it orchestrates
// application cleartext, SSL ciphertext, and raw control packets over a
// reliability layer on top of an unreliable transport. It is the largest
// component of this module and is new code, grounded in overproto.go's
// package-level orchestration idiom (package-level Init/SetHandler/Send
// became, here, per-instance constructor injection, since this engine
// rules out global state).
package stack

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/nickolajgrishuk/reliproto-go/clock"
	"github.com/nickolajgrishuk/reliproto-go/frame"
	"github.com/nickolajgrishuk/reliproto-go/packet"
	"github.com/nickolajgrishuk/reliproto-go/reliable"
	"github.com/nickolajgrishuk/reliproto-go/seqid"
	"github.com/nickolajgrishuk/reliproto-go/sslengine"
	"github.com/nickolajgrishuk/reliproto-go/stats"
)

// infiniteTime is what NextRetransmit reports when there is nothing to
// wait for: the send window is empty, or the engine is invalidated.
var infiniteTime = time.Unix(0, 0).Add(reliable.InfiniteDuration)

// Config bundles every constructor input the engine needs: an SSL context
// factory, a clock, a frame descriptor source, a statistics sink, the
// window span, the ACK-list capacity, and the outer protocol's hooks.
type Config struct {
	SSLFactory func() (sslengine.Engine, error)
	Clock      clock.Clock
	Frames     frame.Descriptors
	Stats      stats.Sink
	Protocol   Protocol
	Delivery   Delivery

	Span       uint32
	MaxAckList int

	// RetransmitBase/RetransmitMax parameterize the send window's
	// per-message backoff policy.
	RetransmitBase time.Duration
	RetransmitMax  time.Duration

	// InvalidateCallback fires exactly once, the first time the engine
	// invalidates.
	InvalidateCallback func()

	Logger *logrus.Entry
}

// Engine is the stack engine. It is not internally synchronized:
// callers must serialize their own calls into a single Engine, typically
// from one I/O event loop goroutine.
type Engine struct {
	ssl      sslengine.Engine
	clk      clock.Clock
	frames   frame.Descriptors
	stats    stats.Sink
	protocol Protocol
	delivery Delivery

	invalidateCallback func()
	log                *logrus.Entry
	id                 xid.ID

	sendWindow *reliable.SendWindow
	recvWindow *reliable.RecvWindow
	ackTracker *reliable.AckTracker

	appQueue [][]byte
	rawQueue []packet.Packet

	sslStarted         bool
	invalidated        bool
	upStackReentry     int
	nextRetransmitTime time.Time
}

// New creates the SSL session via cfg.SSLFactory, initializes the
// reliability windows, and sets next_retransmit_time to infinity.
func New(cfg Config) (*Engine, error) {
	ssl, err := cfg.SSLFactory()
	if err != nil {
		return nil, errors.Wrap(err, "stack: create ssl session")
	}

	statSink := cfg.Stats
	if statSink == nil {
		statSink = stats.Noop{}
	}

	logger := cfg.Logger
	if logger == nil {
		base := logrus.New()
		base.SetLevel(logrus.WarnLevel)
		logger = logrus.NewEntry(base)
	}

	e := &Engine{
		ssl:                ssl,
		clk:                cfg.Clock,
		frames:             cfg.Frames,
		stats:              statSink,
		protocol:           cfg.Protocol,
		delivery:           cfg.Delivery,
		invalidateCallback: cfg.InvalidateCallback,
		id:                 xid.New(),
		sendWindow:         reliable.NewSendWindow(cfg.Span, cfg.RetransmitBase, cfg.RetransmitMax),
		recvWindow:         reliable.NewRecvWindow(cfg.Span),
		ackTracker:         reliable.NewAckTracker(cfg.MaxAckList),
		nextRetransmitTime: infiniteTime,
	}
	e.log = logger.WithField("engine", e.id.String())
	return e, nil
}

// Invalidated reports whether the engine has reached its terminal error
// state. Monotonic: once true, never false again.
func (e *Engine) Invalidated() bool { return e.invalidated }

// SSLStarted reports whether StartHandshake has been called.
func (e *Engine) SSLStarted() bool { return e.sslStarted }

// StartHandshake marks ssl_started, delegates to the SSL engine, and runs
// up_sequenced once (the handshake may produce data immediately).
func (e *Engine) StartHandshake() error {
	if e.invalidated {
		return nil
	}
	e.sslStarted = true
	if err := e.ssl.StartHandshake(); err != nil {
		return e.fatalSSL(err)
	}
	e.log.Debug("handshake started")
	return e.upSequenced()
}

// NetRecv pushes one received wire packet through the up path. Errors
// returned here are per-packet transient unless they originate from the
// SSL engine or from generating a forced standalone ACK, in which case the
// session is already invalidated by the time the error surfaces.
func (e *Engine) NetRecv(pkt packet.Packet) error {
	if e.invalidated {
		return nil
	}
	return e.upStack(pkt)
}

// AppSend enqueues cleartext for later SSL ingestion.
func (e *Engine) AppSend(buf []byte) {
	if e.invalidated {
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	e.appQueue = append(e.appQueue, cp)
}

// RawSend enqueues a raw packet for later sequencing.
func (e *Engine) RawSend(pkt packet.Packet) {
	if e.invalidated {
		return
	}
	e.rawQueue = append(e.rawQueue, pkt)
}

// Flush drains the raw queue, then the app queue through SSL, then updates
// the retransmit timer. It is a no-op while the up path is already
// executing (reentry guard) and idempotent when there is nothing to do.
func (e *Engine) Flush() error {
	if e.invalidated {
		return nil
	}
	if e.upStackReentry > 0 {
		return nil
	}

	if err := e.downRaw(); err != nil {
		return err
	}
	if e.sslStarted {
		if err := e.downAppPushCleartext(); err != nil {
			return err
		}
		if err := e.downAppPullCiphertext(); err != nil {
			return err
		}
	}

	e.recomputeNextRetransmit(e.clk.Now())
	return nil
}

// SendPendingAcks emits standalone ACK packets until the tracker is
// drained.
func (e *Engine) SendPendingAcks() error {
	if e.invalidated {
		return nil
	}
	for e.ackTracker.Len() > 0 {
		if err := e.drainOneAck(); err != nil {
			return err
		}
	}
	return nil
}

// drainOneAck emits a single standalone ACK packet covering as much of the
// tracker's current contents as protocol.GenerateAck consumes.
func (e *Engine) drainOneAck() error {
	pending := e.ackTracker.Peek(e.ackTracker.Len())
	wire, drained, err := e.protocol.GenerateAck(pending)
	if err != nil {
		return e.fatalEncap(err)
	}
	if drained <= 0 {
		drained = len(pending)
	}
	e.ackTracker.Drain(drained)
	return e.protocol.NetSend(wire)
}

// pushAck records a recv id awaiting acknowledgement, forcing a standalone
// ACK emission first if the tracker is already at max_ack_list capacity
// (§3: "On overflow, oldest entries are drained by forced standalone ACK
// emission").
func (e *Engine) pushAck(id seqid.ID) error {
	if e.ackTracker.Full() {
		e.log.Debug("ack tracker full, forcing standalone ack drain")
		if err := e.drainOneAck(); err != nil {
			return err
		}
	}
	e.ackTracker.Push(id)
	return nil
}

// Retransmit retransmits every send-window message whose retransmit timer
// has expired as of now, in id order, then rearms the next deadline.
func (e *Engine) Retransmit(now time.Time) error {
	if e.invalidated {
		return nil
	}
	if now.Before(e.nextRetransmitTime) {
		return nil
	}
	for _, msg := range e.sendWindow.DueForRetransmit(now) {
		if err := e.protocol.NetSend(msg.Payload); err != nil {
			return err
		}
		e.sendWindow.Rearm(msg, now)
	}
	e.recomputeNextRetransmit(now)
	return nil
}

// NextRetransmit returns next_retransmit_time, or infinity if invalidated.
func (e *Engine) NextRetransmit() time.Time {
	if e.invalidated {
		return infiniteTime
	}
	return e.nextRetransmitTime
}

// Invalidate sets the sticky terminal flag and fires the invalidate
// callback exactly once. Idempotent.
func (e *Engine) Invalidate() {
	if e.invalidated {
		return
	}
	e.invalidated = true
	e.log.Warn("engine invalidated")
	if e.invalidateCallback != nil {
		e.invalidateCallback()
	}
}

func (e *Engine) recomputeNextRetransmit(now time.Time) {
	d := e.sendWindow.UntilRetransmit(now)
	if d == reliable.InfiniteDuration {
		e.nextRetransmitTime = infiniteTime
		return
	}
	e.nextRetransmitTime = now.Add(d)
}

func (e *Engine) fatalSSL(err error) error {
	e.stats.Count(stats.SSLError)
	wrapped := errors.Wrap(err, "stack: ssl engine error")
	var agg *multierror.Error
	agg = multierror.Append(agg, wrapped)
	e.Invalidate()
	return agg.ErrorOrNil()
}

func (e *Engine) fatalEncap(err error) error {
	e.stats.Count(stats.EncapsulationError)
	wrapped := errors.Wrap(err, "stack: encapsulation error")
	e.Invalidate()
	return wrapped
}
