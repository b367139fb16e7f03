package engine

import (
	"sync/atomic"

	"github.com/kvmesh/kvmesh/stats"
)

// MsgPool is a per-event-loop free-list of Msg shells with a soft ceiling
// (ordinary client-plane traffic backs off once reached) and a hard ceiling
// (never exceeded; Acquire fails past it even for forced replication-plane
// acquisitions). It owns no locks -- one MsgPool belongs to exactly one
// event-loop goroutine, per the engine's no-shared-mutable-state model.
type MsgPool struct {
	segPool *mbufPool

	free []*Msg

	softCeil int
	hardCeil int
	live     int // shells currently outstanding (not on the free-list)

	nextID uint64

	sink stats.Sink
}

// NewMsgPool constructs a pool backed by a fresh segment pool sized segCap,
// enforcing softCeil/hardCeil on the number of live Msg shells.
func NewMsgPool(segCap, softCeil, hardCeil int) *MsgPool {
	if hardCeil <= 0 {
		hardCeil = 1 << 20
	}
	if softCeil <= 0 || softCeil > hardCeil {
		softCeil = hardCeil
	}
	return &MsgPool{
		segPool:  newMbufPool(segCap),
		softCeil: softCeil,
		hardCeil: hardCeil,
		sink:     stats.Noop{},
	}
}

// SetSink installs the stats.Sink this pool and the drivers operating
// against it report through. A nil sink is ignored, leaving the pool on
// its default no-op sink.
func (p *MsgPool) SetSink(s stats.Sink) {
	if s != nil {
		p.sink = s
	}
}

// Sink returns the pool's installed stats.Sink, used by the drivers in
// this package to report without each needing its own reference threaded
// through.
func (p *MsgPool) Sink() stats.Sink { return p.sink }

// Live returns the number of Msg shells currently outstanding.
func (p *MsgPool) Live() int { return p.live }

// AtSoftCeiling reports whether ordinary acquisition should be refused.
func (p *MsgPool) AtSoftCeiling() bool { return p.live >= p.softCeil }

// AtHardCeiling reports whether even a forced acquisition must be refused.
func (p *MsgPool) AtHardCeiling() bool { return p.live >= p.hardCeil }

// Acquire returns a Msg shell for ordinary (client-plane) traffic, or nil if
// the pool is at its soft ceiling.
func (p *MsgPool) Acquire(request bool, family Family) *Msg {
	return p.acquire(request, family, false)
}

// AcquireForced returns a Msg shell bypassing the soft ceiling, for
// replication-plane traffic that must not be starved by client load. It
// still refuses once the hard ceiling is reached.
func (p *MsgPool) AcquireForced(request bool, family Family) *Msg {
	return p.acquire(request, family, true)
}

func (p *MsgPool) acquire(request bool, family Family, forced bool) *Msg {
	if p.AtHardCeiling() {
		p.sink.IncErrors(family.String(), ClassExhausted.String())
		return nil
	}
	if !forced && p.AtSoftCeiling() {
		p.sink.IncErrors(family.String(), ClassExhausted.String())
		return nil
	}

	var m *Msg
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		m = &Msg{}
	}

	p.nextID++
	m.id = p.nextID
	m.request = request
	m.family = family
	p.live++
	p.sink.SetPoolLive(p.live)
	return m
}

// Release returns m's shell and every segment in its chain to their
// respective pools, first breaking m's peer link on both sides. It must not
// be called while m still has fragment-group membership or a timeout-index
// entry outstanding; callers tear those down first.
func (p *MsgPool) Release(m *Msg) {
	m.UnlinkPeer()
	for seg := m.chain.head; seg != nil; {
		var next = seg.next
		p.segPool.put(seg)
		seg = next
	}

	var id = m.id
	*m = Msg{}
	m.id = id // retained for diagnostics; Acquire overwrites it on reuse

	p.free = append(p.free, m)
	p.live--
	p.sink.SetPoolLive(p.live)
}

// NewSegment acquires a fresh segment from the pool's backing segment pool
// and appends it to msg's chain, returning the segment for the caller to
// write into.
func (p *MsgPool) NewSegment(msg *Msg) *Mbuf {
	var seg = p.segPool.get()
	msg.chain.Append(seg)
	if msg.curSeg == nil {
		msg.curSeg = seg
	}
	return seg
}

// PutSegment returns a detached segment (eg. one released by a fragment
// split) directly to the backing segment pool.
func (p *MsgPool) PutSegment(seg *Mbuf) { p.segPool.put(seg) }

// idCounter backs NextGlobalID: one process-wide counter, shared by every
// pool, from which Fragment mints fragment group ids.
var idCounter uint64

// NextGlobalID returns a process-wide monotonically increasing id, used to
// mint fragment group identifiers that must stay unique across pools.
func NextGlobalID() uint64 { return atomic.AddUint64(&idCounter, 1) }
