package engine

// Cross-segment scanning helpers shared by proto/protoa and proto/protob.
// A Msg's unparsed bytes may span more than one Mbuf segment, so a
// Protocol's Parse implementation never indexes msg.curSeg.buf directly
// past that segment's own boundary -- it uses these helpers instead.

// FindByte scans forward from msg.curSeg.pos for delim, without consuming
// any bytes. It returns the segment and in-segment offset of the match, or
// ok=false if delim isn't present in the currently buffered bytes (the
// caller should report ResultAgain, or ResultRepair if curSeg is exhausted
// and a following segment exists).
func FindByte(msg *Msg, delim byte) (seg *Mbuf, offset int, ok bool) {
	var start = msg.curSeg
	for s := start; s != nil; s = s.next {
		var from = 0
		if s == start {
			from = s.pos
		}
		for i := from; i < s.last; i++ {
			if s.buf[i] == delim {
				return s, i, true
			}
		}
	}
	return nil, 0, false
}

// Available reports how many unparsed bytes are currently buffered from
// msg's cursor to the end of its chain.
func Available(msg *Msg) int {
	var n int
	var start = msg.curSeg
	for s := start; s != nil; s = s.next {
		if s == start {
			n += s.last - s.pos
		} else {
			n += s.last
		}
	}
	return n
}

// Gather copies n bytes starting at msg.curSeg.pos into a freshly allocated
// slice, without advancing the cursor. The caller must have already
// confirmed Available(msg) >= n.
func Gather(msg *Msg, n int) []byte {
	var out = make([]byte, 0, n)
	var s = msg.curSeg
	var off = s.pos
	for n > 0 {
		var avail = s.last - off
		if avail > n {
			avail = n
		}
		out = append(out, s.buf[off:off+avail]...)
		n -= avail
		s = s.next
		off = 0
	}
	return out
}

// advanceCursor moves m's cursor forward by n bytes, crossing segment
// boundaries as needed and updating msg.curSeg to the segment containing
// the new position.
func (m *Msg) advanceCursor(n int) {
	var s = m.curSeg
	for n > 0 {
		var avail = s.last - s.pos
		if avail > n {
			s.pos += n
			n = 0
		} else {
			n -= avail
			s.pos = s.last
			if s.next != nil {
				s = s.next
			} else {
				break
			}
		}
	}
	m.curSeg = s
}

// AdvanceCursor is the exported form of advanceCursor, used by Protocol
// implementations outside this package.
func AdvanceCursor(msg *Msg, n int) { msg.advanceCursor(n) }
