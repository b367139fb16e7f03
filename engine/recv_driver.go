package engine

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RecvSizeHint is the sizing policy consulted before each Recv call: how
// many bytes to ask the transport for, given the segment currently being
// filled. Client-plane connections read up to the segment's nominal
// capacity; replication-plane connections read into the extra region too,
// since an encrypted body carries padding overhead beyond the plaintext
// length already accounted for by the segment's nominal size. While a
// replication-plane message's ciphertext chunk is still incomplete, the
// read is further clamped to what remains of it, so a single Recv call
// never pulls in bytes belonging to whatever follows the chunk on the
// wire.
func RecvSizeHint(msg *Msg, seg *Mbuf) int {
	if !msg.dynMode {
		return seg.Remaining()
	}
	var room = seg.RemainingWithExtra()
	if msg.dmsg.present && msg.dmsg.IsEncrypted() {
		if need := int(msg.dmsg.plen); need > 0 && need < room {
			return need
		}
	}
	return room
}

// Recv performs one receive-and-parse step for msg: it ensures msg has a
// current write segment, asks the connection to fill it, applies
// replication-plane decryption in place when the envelope calls for it, and
// hands off to Drive for parsing. Drive may itself produce further messages
// -- a fragmentation sibling, or a second command pipelined into the same
// read -- and Recv signals recv_done across the whole resulting chain
// (spec 4.6 step 7), chaining whichever trailing message is still
// incomplete back onto the connection as what to fill next, so a later
// call continues parsing already-buffered bytes rather than blocking on a
// fresh socket read. It returns every message in that chain that completed
// parsing, or a ClassTransient/ClassFatal error from the transport.
func Recv(pool *MsgPool, msg *Msg, log *logrus.Entry) ([]*Msg, error) {
	var seg = msg.chain.Tail()
	if seg == nil || seg.IsFull() {
		seg = pool.NewSegment(msg)
	}
	if msg.curSeg == nil {
		msg.curSeg = seg
	}

	var hint = RecvSizeHint(msg, seg)
	if hint == 0 {
		return nil, NewError(ClassExhausted, errPlain("recv: segment has no room"))
	}

	var n, err = msg.owner.Recv(seg.WriteSlice(hint))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	seg.Advance(n)
	msg.chain.mlen += n

	if msg.dynMode && msg.dmsg.present && msg.dmsg.IsEncrypted() && msg.dmsg.plen > 0 {
		if key := msg.owner.AESKey(); len(key) > 0 {
			var newly = seg.buf[seg.last-n : seg.last]
			if derr := msg.dmsg.DecryptInPlace(key, newly); derr != nil {
				if log != nil {
					log.WithError(derr).Warn("dmsg decrypt failed")
				}
				return nil, NewError(ClassParse, derr)
			}
		}
	}

	var frags, derr = Drive(pool, msg)
	if derr != nil {
		return frags, derr
	}

	return recvDrain(pool, msg, frags), nil
}

// recvDrain wires recv_done across msg and whatever Drive produced for it.
// Every entry but (at most) the last is guaranteed complete -- Drive only
// ever stops mid-chain on the trailing message once it runs out of
// buffered bytes. Complete entries are queued via RecvDone and returned;
// an incomplete trailing entry is instead chained in as the connection's
// next message to fill, via the "next" argument of the preceding entry's
// RecvDone call, and left out of the returned list.
//
// Every completed entry is also reported to the pool's stats.Sink
// (IncRequests) and stamped with its entry time, consulted later by
// Engine.Disarm to observe round-trip latency.
func recvDrain(pool *MsgPool, msg *Msg, frags []*Msg) []*Msg {
	var chain = make([]*Msg, 0, len(frags)+1)
	chain = append(chain, msg)
	chain = append(chain, frags...)

	var done []*Msg
	for i := 0; i < len(chain)-1; i++ {
		msg.owner.RecvDone(chain[i], chain[i+1])
		reportRequest(pool, chain[i])
		done = append(done, chain[i])
	}

	var last = chain[len(chain)-1]
	if last.Done() {
		msg.owner.RecvDone(last, nil)
		reportRequest(pool, last)
		done = append(done, last)
	}

	return done
}

func reportRequest(pool *MsgPool, msg *Msg) {
	msg.SetStimeInMicrosec(time.Now().UnixMicro())
	pool.sink.IncRequests(msg.family.String(), msg.typ.String())
}
