package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/stats"
)

// Options configures one Engine instance. Every event-loop goroutine owns
// its own Engine, and therefore its own MsgPool and TimeoutIndex -- the
// engine's only package-level mutable state is the process-wide atomic
// counter behind NextGlobalID, from which every Engine mints its fragment
// group ids.
type Options struct {
	SegmentCap int
	SoftCeil   int
	HardCeil   int
	Timeout    time.Duration
}

// Engine bundles the per-loop pool and timeout index the drivers in this
// package operate against. It is the unit of isolation described by the
// concurrency model: nothing in this struct is ever touched from more than
// one goroutine.
type Engine struct {
	Pool    *MsgPool
	Timeout *TimeoutIndex
	Options Options
	Log     *logrus.Entry
}

// New constructs an Engine from opts, filling in defaults for zero fields.
func New(opts Options, log *logrus.Entry) *Engine {
	if opts.SegmentCap <= 0 {
		opts.SegmentCap = DefaultSegmentCap
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		Pool:    NewMsgPool(opts.SegmentCap, opts.SoftCeil, opts.HardCeil),
		Timeout: NewTimeoutIndex(),
		Options: opts,
		Log:     log,
	}
}

// Arm registers msg against its owning connection's per-connection deadline,
// called once a request message is handed off to its backend connection.
// Per spec 4.3, non-requests and messages marked quit or noreply are never
// tracked, and the duration itself comes from the connection
// (ServerTimeout), not a single engine-wide value -- a replication-plane
// peer connection and a client-plane connection may enforce different
// deadlines. Enforcement itself (what happens when a deadline elapses) is an
// external collaborator's responsibility -- the engine only tracks the
// ordering.
func (e *Engine) Arm(msg *Msg) {
	if !msg.IsRequest() || msg.Quit() || msg.NoReply() {
		return
	}
	var owner = msg.Owner()
	if owner == nil {
		return
	}
	var timeout = owner.ServerTimeout()
	if timeout <= 0 {
		return
	}
	e.Timeout.Insert(msg, time.Now().Add(timeout))
}

// Disarm removes msg from the timeout index, called once its response
// completes the round trip, and observes the round-trip latency against the
// engine's stats.Sink if msg was stamped with an entry time by the receive
// driver.
func (e *Engine) Disarm(msg *Msg) {
	e.Timeout.Remove(msg)
	if stime := msg.StimeInMicrosec(); stime > 0 {
		var seconds = float64(time.Now().UnixMicro()-stime) / 1e6
		e.Pool.Sink().ObserveLatency(msg.Family().String(), Plane(msg.DynMode()), seconds)
	}
}

// SetSink installs sink as the destination for every metric the engine and
// its drivers report, replacing the default no-op sink.
func (e *Engine) SetSink(sink stats.Sink) {
	e.Pool.SetSink(sink)
}

// ExpireNow returns every message whose deadline has elapsed as of now,
// removing them from the index. The caller (the event loop) is responsible
// for tearing down or erroring the associated connections.
func (e *Engine) ExpireNow() []*Msg {
	return e.Timeout.Expired(time.Now())
}
