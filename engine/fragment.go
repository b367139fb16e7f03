package engine

// Fragment splits msg at its current parse cursor, producing a sibling Msg
// that shares msg's fragment group (spec 4.5 / C7). msg is truncated in
// place to hold only the bytes already parsed; the returned sibling holds
// the remainder, with pool.NewSegment-equivalent prefix bytes written by
// the installed Protocol's PreSplitcopy hook.
//
// On the first call for a given msg, a fresh fragment group is minted
// (msg.fragID, msg.firstFragment = true). Every sibling inherits the same
// fragID and a pointer back to the group's owner (the first fragment),
// which accumulates nfrag as the group grows.
func Fragment(pool *MsgPool, msg *Msg) (*Msg, error) {
	var proto = msg.proto
	if proto == nil {
		return nil, NewError(ClassFragment, errPlain("fragment: no protocol installed"))
	}

	var newChain = msg.chain.Split(pool.segPool, msg, proto.PreSplitcopy)
	if newChain.Empty() {
		return nil, NewError(ClassFragment, errPlain("fragment: split produced no sibling"))
	}

	if err := proto.PostSplitcopy(msg); err != nil {
		// Return the sibling's segments to the pool; the split never
		// happened from the caller's point of view.
		for seg := newChain.head; seg != nil; {
			var next = seg.next
			pool.segPool.put(seg)
			seg = next
		}
		return nil, NewError(ClassFragment, err)
	}

	var owner = msg
	if msg.fragID == 0 {
		msg.fragID = NextGlobalID()
		msg.firstFragment = true
		msg.fragOwner = msg
		msg.nfrag = 1
	} else {
		owner = msg.fragOwner
	}

	var sib = pool.acquire(msg.request, msg.family, true)
	if sib == nil {
		for seg := newChain.head; seg != nil; {
			var next = seg.next
			pool.segPool.put(seg)
			seg = next
		}
		return nil, ErrPoolExhausted
	}

	sib.chain = *newChain
	sib.curSeg = newChain.head
	sib.owner = msg.owner
	sib.proto = msg.proto
	sib.dynMode = msg.dynMode
	sib.fragID = owner.fragID
	sib.fragOwner = owner
	owner.nfrag++

	return sib, nil
}

// MarkLastFragment finalizes a fragment group once the parser driver
// determines no further FRAGMENT results will be produced: the final
// sibling (or the original msg, for a one-fragment "group") is flagged
// lastFragment so the send/coalesce path knows the group is complete.
func MarkLastFragment(msg *Msg) {
	msg.lastFragment = true
}

// errPlain is a tiny stand-in for errors.New to avoid importing the
// errors package twice for a single string literal.
type errPlain string

func (e errPlain) Error() string { return string(e) }
