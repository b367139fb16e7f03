package engine

import (
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// TimeoutIndex is an ordered index of pending deadlines backed by a
// red-black tree, giving O(log n) insert, delete and lookup of the
// earliest deadline (spec C5). One index belongs to exactly one
// event-loop goroutine.
type TimeoutIndex struct {
	tree   *llrb.LLRB
	nextKy int64
}

// NewTimeoutIndex constructs an empty index.
func NewTimeoutIndex() *TimeoutIndex {
	return &TimeoutIndex{tree: llrb.New()}
}

// Insert registers msg's deadline in the index. msg must not already be
// present; callers call Remove first if reinserting with a new deadline.
func (t *TimeoutIndex) Insert(msg *Msg, deadline time.Time) {
	t.nextKy++
	msg.tmoDeadline = deadline
	msg.tmoKey = t.nextKy
	t.tree.InsertNoReplace(&llrbItem{deadline: deadline, key: msg.tmoKey, msg: msg})
}

// Remove deletes msg from the index, if present. It is a no-op if msg
// carries no timeout entry.
func (t *TimeoutIndex) Remove(msg *Msg) {
	if msg.tmoDeadline.IsZero() {
		return
	}
	t.tree.Delete(&llrbItem{deadline: msg.tmoDeadline, key: msg.tmoKey})
	msg.tmoDeadline = time.Time{}
	msg.tmoKey = 0
}

// Min returns the message with the earliest deadline, or nil if the index
// is empty.
func (t *TimeoutIndex) Min() *Msg {
	var it = t.tree.Min()
	if it == nil {
		return nil
	}
	return it.(*llrbItem).msg
}

// Len returns the number of messages currently tracked.
func (t *TimeoutIndex) Len() int { return t.tree.Len() }

// Expired removes and returns every message whose deadline is at or before
// now, in deadline order. Called once per event-loop tick.
func (t *TimeoutIndex) Expired(now time.Time) []*Msg {
	var out []*Msg
	for {
		var it = t.tree.Min()
		if it == nil {
			break
		}
		var li = it.(*llrbItem)
		if li.deadline.After(now) {
			break
		}
		t.tree.DeleteMin()
		li.msg.tmoDeadline = time.Time{}
		li.msg.tmoKey = 0
		out = append(out, li.msg)
	}
	return out
}
