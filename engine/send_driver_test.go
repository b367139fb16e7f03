package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	family  Family
	dynMode bool
	aesKey  []byte
	recvIn  []byte
	sent    [][]byte
	sendCap int64 // bytes Sendv accepts per call; 0 means accept everything
	sendErr error // if set, Sendv returns this instead of succeeding
	err     error

	recvQueue []*Msg
	sendQueue []*Msg
	recving   *Msg
}

func (f *fakeConn) Family() Family            { return f.family }
func (f *fakeConn) DynMode() bool             { return f.dynMode }
func (f *fakeConn) AESKey() []byte            { return f.aesKey }
func (f *fakeConn) RecvReady() bool           { return true }
func (f *fakeConn) SendReady() bool           { return len(f.sendQueue) > 0 }
func (f *fakeConn) ServerTimeout() time.Duration { return 0 }

func (f *fakeConn) RecvNext(alloc bool) *Msg { return f.recving }

func (f *fakeConn) SendNext() *Msg {
	if len(f.sendQueue) == 0 {
		return nil
	}
	return f.sendQueue[0]
}

func (f *fakeConn) RecvDone(msg, next *Msg) {
	f.recvQueue = append(f.recvQueue, msg)
	f.recving = next
}

func (f *fakeConn) SendDone(msg *Msg) {
	if len(f.sendQueue) > 0 && f.sendQueue[0] == msg {
		f.sendQueue = f.sendQueue[1:]
	}
}

func (f *fakeConn) Enqueue(msg *Msg) { f.sendQueue = append(f.sendQueue, msg) }

func (f *fakeConn) PendingSends() []*Msg { return append([]*Msg(nil), f.sendQueue...) }

func (f *fakeConn) SetErr(err error) { f.err = err }

func (f *fakeConn) Recv(b []byte) (int, error) {
	var n = copy(b, f.recvIn)
	f.recvIn = f.recvIn[n:]
	return n, nil
}

func (f *fakeConn) Sendv(bufs [][]byte) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	var total int64
	for _, b := range bufs {
		f.sent = append(f.sent, b)
		total += int64(len(b))
	}
	if f.sendCap > 0 && total > f.sendCap {
		total = f.sendCap
	}
	return total, nil
}

func TestSendDrainsSegmentsFully(t *testing.T) {
	var pool = NewMsgPool(64, 10, 10)
	var msg = pool.Acquire(false, FamilyA)
	var conn = &fakeConn{}
	msg.owner = conn
	conn.Enqueue(msg)

	var a = pool.NewSegment(msg)
	a.CopyIn([]byte("hello "))
	var b = pool.NewSegment(msg)
	b.CopyIn([]byte("world"))

	var n, err = Send(pool, conn)
	assert.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.True(t, a.IsEmpty())
	assert.True(t, b.IsEmpty())
	assert.Empty(t, conn.sendQueue, "fully drained message is acknowledged via SendDone")
}

func TestSendPartialAdvancesCursorOnly(t *testing.T) {
	var pool = NewMsgPool(64, 10, 10)
	var msg = pool.Acquire(false, FamilyA)
	var conn = &fakeConn{sendCap: 3}
	msg.owner = conn
	conn.Enqueue(msg)

	var a = pool.NewSegment(msg)
	a.CopyIn([]byte("hello world"))

	var n, err = Send(pool, conn)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 3, a.pos)
	assert.False(t, a.IsEmpty())
	assert.Len(t, conn.sendQueue, 1, "message stays queued until its segments fully drain")
}

func TestSendGathersAcrossQueuedMessagesAndAcksDrainedOnes(t *testing.T) {
	var pool = NewMsgPool(256, 10, 10)
	var conn = &fakeConn{sendCap: 120}

	var first = pool.Acquire(false, FamilyA)
	first.owner = conn
	var firstSeg = pool.NewSegment(first)
	firstSeg.CopyIn(bytes.Repeat([]byte("a"), 100))

	var second = pool.Acquire(false, FamilyA)
	second.owner = conn
	var secondSeg = pool.NewSegment(second)
	secondSeg.CopyIn(bytes.Repeat([]byte("b"), 50))

	conn.Enqueue(first)
	conn.Enqueue(second)

	var n, err = Send(pool, conn)
	assert.NoError(t, err)
	assert.Equal(t, int64(120), n)

	assert.True(t, firstSeg.IsEmpty(), "first message's 100 bytes fully sent")
	assert.Equal(t, 20, secondSeg.pos, "second message's cursor advances by the remaining 20 bytes")
	assert.False(t, secondSeg.IsEmpty())

	assert.Len(t, conn.sendQueue, 1)
	assert.Same(t, second, conn.sendQueue[0], "only the fully drained message is acked")
}

func TestSendAcksZeroByteMessageWithoutOccupyingAnIovec(t *testing.T) {
	var pool = NewMsgPool(64, 10, 10)
	var conn = &fakeConn{}

	var empty = pool.Acquire(false, FamilyA)
	empty.owner = conn
	conn.Enqueue(empty)

	var n, err = Send(pool, conn)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Empty(t, conn.sendQueue, "a zero-byte message is acknowledged even on an empty sendv")
}
