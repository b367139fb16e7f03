package engine

// Drive runs msg's installed Protocol to completion, handling the FRAGMENT
// and REPAIR results internally and returning every sibling message spun off
// -- by fragmentation, or by trailing bytes left over from a pipelined
// second command in the same read -- in wire order, each already driven to
// completion itself. It mirrors the run-to-fixpoint shape of a state-machine
// driver loop: repeatedly invoke Parse, branch on the result, stop on
// AGAIN or ERROR.
//
//   - ResultOK: msg is fully parsed. If bytes remain in msg's chain beyond
//     the parse cursor (another pipelined command arrived in the same read),
//     split them off into a fresh message and recursively Drive it to
//     completion, appending everything it produces.
//   - ResultFragment: split msg at its cursor, record the sibling. Some
//     protocols (protob) re-designate msg itself to a now-complete single
//     operation via PostSplitcopy, in which case msg has nothing further to
//     parse and the sibling is driven recursively for its own remaining
//     keys; others leave msg.result as ResultFragment and expect Parse to be
//     invoked again directly.
//   - ResultRepair: the protocol needs its cursor re-aligned to a segment
//     boundary before it can continue (eg. a multi-byte token was split
//     across segments); Drive advances msg.curSeg and retries Parse without
//     consuming additional input.
//   - ResultAgain: msg is incomplete; Drive stops and returns what it has so
//     the caller can wait for more bytes from the connection.
//   - ResultError: returns the accumulated fragments (for the caller to
//     release) along with a ClassParse error.
func Drive(pool *MsgPool, msg *Msg) ([]*Msg, error) {
	var frags []*Msg
	var repairBudget = 8 // bounds a pathological repair ping-pong

	for {
		msg.proto.Parse(msg)

		switch msg.result {
		case ResultOK:
			if msg.fragID != 0 {
				MarkLastFragment(msg)
			}
			var next, err = splitTrailing(pool, msg)
			if err != nil {
				return frags, err
			}
			if next == nil {
				return frags, nil
			}
			frags = append(frags, next)
			var more, err2 = Drive(pool, next)
			if err2 != nil {
				return frags, err2
			}
			return append(frags, more...), nil

		case ResultFragment:
			var sib, err = Fragment(pool, msg)
			if err != nil {
				return frags, err
			}
			pool.sink.IncFragments(msg.family.String())
			frags = append(frags, sib)
			if msg.result == ResultOK {
				// PostSplitcopy re-designated msg as a complete single-key
				// operation; msg has nothing left to parse, but the
				// sibling still carries whatever keys remain -- drive it
				// the same way, recursively, until the group is exhausted.
				var more, err2 = Drive(pool, sib)
				if err2 != nil {
					return frags, err2
				}
				return append(frags, more...), nil
			}

		case ResultRepair:
			repairBudget--
			if repairBudget <= 0 {
				return frags, NewError(ClassParse, errPlain("parser: repair budget exceeded"))
			}
			if msg.curSeg != nil && msg.curSeg.next != nil && msg.curSeg.IsEmpty() {
				msg.curSeg = msg.curSeg.next
			}

		case ResultAgain:
			return frags, nil

		case ResultError:
			pool.sink.IncErrors(msg.family.String(), ClassParse.String())
			if msg.dynMode {
				pool.sink.ReplicationParseError()
			}
			return frags, NewError(ClassParse, errPlain("parser: malformed input"))

		default:
			return frags, NewError(ClassParse, errPlain("parser: unknown result"))
		}
	}
}

// splitTrailing checks whether msg's chain still holds unparsed bytes beyond
// the cursor Parse left behind on completion -- a second command already
// buffered in the same read -- and if so, splits them off into a fresh
// message sharing msg's connection and protocol, ready to be driven in its
// own right. Returns nil, nil if nothing remains.
func splitTrailing(pool *MsgPool, msg *Msg) (*Msg, error) {
	if Available(msg) == 0 {
		return nil, nil
	}

	var newChain = msg.chain.Split(pool.segPool, msg, nil)
	if newChain.Empty() {
		return nil, nil
	}

	var next = pool.acquire(msg.request, msg.family, true)
	if next == nil {
		for seg := newChain.head; seg != nil; {
			var n = seg.next
			pool.segPool.put(seg)
			seg = n
		}
		return nil, ErrPoolExhausted
	}

	next.chain = *newChain
	next.curSeg = newChain.head
	next.owner = msg.owner
	next.proto = msg.proto
	next.dynMode = msg.dynMode
	return next, nil
}
