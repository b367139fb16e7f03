package engine

// Chain is a singly-linked FIFO of Mbuf segments comprising one message's
// wire bytes, ordered by wire position.
type Chain struct {
	head, tail *Mbuf
	mlen       int // sum of Written() over all segments, per the mlen invariant (P1)
}

// Mlen returns the total bytes ever written into the chain's segments.
func (c *Chain) Mlen() int { return c.mlen }

// Empty reports whether the chain holds no segments.
func (c *Chain) Empty() bool { return c.head == nil }

// Append adds a segment to the tail of the chain.
func (c *Chain) Append(m *Mbuf) {
	m.next = nil
	if c.tail == nil {
		c.head, c.tail = m, m
	} else {
		c.tail.next = m
		c.tail = m
	}
	c.mlen += m.Written()
}

// Head returns the first segment of the chain, or nil.
func (c *Chain) Head() *Mbuf { return c.head }

// Tail returns the last segment of the chain, or nil.
func (c *Chain) Tail() *Mbuf { return c.tail }

// recompute walks the chain and fixes mlen and tail; used after Split
// detaches a suffix of segments.
func (c *Chain) recompute() {
	if c.head == nil {
		c.tail = nil
		c.mlen = 0
		return
	}
	var n int
	var last = c.head
	for m := c.head; m != nil; m = m.next {
		n += m.Written()
		last = m
	}
	c.tail = last
	c.mlen = n
}

// PreSplitFunc prepends protocol-specific bytes to a freshly cloned segment
// before the bulk copy of split-boundary content, per spec 4.1. It writes
// into newSeg via newSeg.CopyIn; the split-boundary bytes are appended by
// the caller immediately afterward.
type PreSplitFunc func(srcMsg *Msg, newSeg *Mbuf)

// Split cuts the chain at the segment and in-segment cursor currently
// referenced by msg's parse position (msg.curSeg, msg.curSeg.pos), returning
// a new Chain holding the bytes at and after that cursor.
//
// If pre is nil and the cursor sits exactly at curSeg.last (a clean segment
// boundary with unparsed segments following), those following segments are
// moved into the new chain intact -- no copy. Otherwise (mid-segment cursor,
// or a non-nil pre callback that must prepend bytes) a fresh segment is
// acquired from segPool, pre (if any) writes a protocol prefix into it, the
// carried-over tail bytes of curSeg are copied in verbatim, and any fully
// unparsed following segments are appended after it intact.
//
// The original chain is truncated in place: curSeg.last is set to curSeg.pos,
// so the original message retains only the bytes already parsed.
func (c *Chain) Split(segPool *mbufPool, msg *Msg, pre PreSplitFunc) *Chain {
	var newChain = &Chain{}
	var seg = msg.curSeg
	if seg == nil {
		return newChain
	}

	var tailBytes []byte
	if seg.pos < seg.last {
		tailBytes = append([]byte(nil), seg.buf[seg.pos:seg.last]...)
	}
	var following = seg.next
	seg.next = nil
	seg.last = seg.pos // truncate: original keeps only already-parsed bytes

	if pre == nil && len(tailBytes) == 0 {
		// Clean boundary, nothing to prepend: move following segments intact.
		for m := following; m != nil; {
			var n = m.next
			newChain.Append(m)
			m = n
		}
	} else {
		var head = segPool.get()
		if pre != nil {
			pre(msg, head)
		}
		head.CopyIn(tailBytes)
		newChain.Append(head)
		for m := following; m != nil; {
			var n = m.next
			newChain.Append(m)
			m = n
		}
	}

	c.recompute()
	return newChain
}
