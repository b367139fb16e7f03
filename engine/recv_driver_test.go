package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecvFillsSegmentAndParses(t *testing.T) {
	var pool = NewMsgPool(64, 10, 10)
	var msg = pool.Acquire(true, FamilyA)
	msg.SetProtocol(&fixedResultProtocol{result: ResultOK})

	var conn = &fakeConn{recvIn: []byte("whatever")}
	msg.owner = conn

	var frags, err = Recv(pool, msg, nil)
	assert.NoError(t, err)
	assert.Nil(t, frags)
	assert.Equal(t, 8, msg.chain.Mlen())
}

func TestRecvAcquiresFreshSegmentWhenTailFull(t *testing.T) {
	var pool = NewMsgPool(4, 10, 10) // tiny nominal capacity
	var msg = pool.Acquire(true, FamilyA)
	msg.SetProtocol(&fixedResultProtocol{result: ResultAgain})
	var conn = &fakeConn{recvIn: []byte("abcd")}
	msg.owner = conn

	var _, err = Recv(pool, msg, nil)
	assert.NoError(t, err)

	// The first segment is now at its nominal capacity; a second Recv must
	// acquire a fresh segment rather than erroring.
	conn.recvIn = []byte("ef")
	var _, err2 = Recv(pool, msg, nil)
	assert.NoError(t, err2)
	assert.Equal(t, 6, msg.chain.Mlen())
}
