package engine

import "math"

// MaxIovecs bounds the number of segments gathered into a single Sendv
// call, mirroring the OS-level IOV_MAX concern the C source works around.
const MaxIovecs = 128

// maxSendBytes bounds the total bytes gathered into a single Sendv call;
// the last span is clamped to fit.
const maxSendBytes = math.MaxInt32

// Send performs one bounded scatter-gather send step for conn: it gathers
// up to MaxIovecs segments (and at most maxSendBytes bytes) worth of unread
// bytes across as many queued
// messages as fit (spec 4.7), starting at conn's send queue head, writes
// them in one Sendv call, and fans the bytes actually accepted back out
// across those messages in FIFO order. A message whose segments fully
// drain -- including one with no unread bytes at all, which never
// occupies an iovec slot -- is acknowledged via conn.SendDone before Send
// returns; a message left with unread bytes stays at the head of the
// queue for the next call.
func Send(pool *MsgPool, conn Connection) (int64, error) {
	var queued = conn.PendingSends()

	var segs []*Mbuf
	var msgOf []*Msg
	var bufs = make([][]byte, 0, MaxIovecs)

	var total int64
	for _, msg := range queued {
		if len(bufs) >= MaxIovecs || total >= maxSendBytes {
			break
		}
		for seg := msg.curSeg; seg != nil && len(bufs) < MaxIovecs && total < maxSendBytes; seg = seg.next {
			if seg.IsEmpty() {
				continue
			}
			var b = seg.UnreadBytes()
			if rest := maxSendBytes - total; int64(len(b)) > rest {
				b = b[:rest]
			}
			segs = append(segs, seg)
			msgOf = append(msgOf, msg)
			bufs = append(bufs, b)
			total += int64(len(b))
		}
	}

	var zeroDone []*Msg
	for _, msg := range queued {
		if msg.chain.Mlen() == 0 {
			zeroDone = append(zeroDone, msg)
		}
	}

	if len(bufs) == 0 {
		for _, msg := range zeroDone {
			conn.SendDone(msg)
		}
		return 0, nil
	}

	var n, err = conn.Sendv(bufs)
	if err != nil {
		pool.sink.IncErrors(conn.Family().String(), ClassFatal.String())
		return n, err
	}

	var remaining = n
	var drainedThrough = -1 // index into segs of the last fully-drained segment
	for i, seg := range segs {
		if remaining <= 0 {
			break
		}
		var avail = int64(seg.Unread())
		if remaining >= avail {
			seg.pos = seg.last
			remaining -= avail
			drainedThrough = i
			if owner := msgOf[i]; seg == owner.curSeg && seg.next != nil {
				owner.curSeg = seg.next
			}
		} else {
			seg.pos += int(remaining)
			remaining = 0
		}
	}

	for _, msg := range zeroDone {
		conn.SendDone(msg)
	}

	// A message is fully drained once every segment attributed to it in
	// this gather was walked past drainedThrough and the message has no
	// further unread bytes left anywhere in its chain.
	var acked = make(map[*Msg]bool)
	for i := 0; i <= drainedThrough && i < len(msgOf); i++ {
		var msg = msgOf[i]
		if acked[msg] {
			continue
		}
		if messageFullyDrained(msg) {
			conn.SendDone(msg)
			acked[msg] = true
		}
	}

	return n, nil
}

// messageFullyDrained reports whether every segment in msg's chain has
// been fully consumed by the send cursor.
func messageFullyDrained(msg *Msg) bool {
	for seg := msg.chain.head; seg != nil; seg = seg.next {
		if !seg.IsEmpty() {
			return false
		}
	}
	return true
}
