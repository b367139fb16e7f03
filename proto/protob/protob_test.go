package protob

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvmesh/kvmesh/engine"
)

func newMsg(t *testing.T, data []byte, role Role) (*engine.MsgPool, *engine.Msg) {
	t.Helper()
	var pool = engine.NewMsgPool(256, 10, 10)
	var msg = pool.Acquire(role == RoleRequest, engine.FamilyB)
	msg.SetProtocol(New(role))
	var seg = pool.NewSegment(msg)
	seg.CopyIn(data)
	return pool, msg
}

func TestParseSingleKeyGet(t *testing.T) {
	var pool, msg = newMsg(t, []byte("*2\r\n$3\r\nget\r\n$4\r\nkey1\r\n"), RoleRequest)

	var frags, err = engine.Drive(pool, msg)
	assert.NoError(t, err)
	assert.Nil(t, frags)
	assert.True(t, msg.Done())
	assert.Equal(t, engine.Get, msg.Type())
	assert.Equal(t, "key1", string(msg.Key()))
}

func TestParseSetKeyAndValue(t *testing.T) {
	var pool, msg = newMsg(t, []byte("*3\r\n$3\r\nset\r\n$1\r\nk\r\n$5\r\nhello\r\n"), RoleRequest)

	var _, err = engine.Drive(pool, msg)
	assert.NoError(t, err)
	assert.True(t, msg.Done())
	assert.Equal(t, "k", string(msg.Key()))
	assert.Equal(t, 5, msg.Vlen())
}

func TestParseMGetFragmentsPerKey(t *testing.T) {
	var pool, msg = newMsg(t, []byte(
		"*4\r\n$4\r\nmget\r\n$2\r\nk1\r\n$2\r\nk2\r\n$2\r\nk3\r\n"), RoleRequest)

	// The first Drive call consumes msg's key and returns every sibling
	// (each carrying a rewritten mget for the keys after it) already driven
	// to completion; driving a sibling again finds no further bytes and
	// leaves it done. Walk the list until every key has surfaced.
	var keys []string
	var pending = []*engine.Msg{msg}
	for len(pending) > 0 {
		var cur = pending[0]
		pending = pending[1:]

		var frags, err = engine.Drive(pool, cur)
		assert.NoError(t, err)
		assert.True(t, cur.Done())
		keys = append(keys, string(cur.Key()))
		pending = append(pending, frags...)
	}

	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, keys)
	assert.Equal(t, engine.Get, msg.Type(), "the first key's fragment is re-designated a single GET by PostSplitcopy")
}

func TestDriveProductionPathResolvesAllFragmentsInOneCall(t *testing.T) {
	var pool, msg = newMsg(t, []byte(
		"*4\r\n$4\r\nmget\r\n$2\r\nk1\r\n$2\r\nk2\r\n$2\r\nk3\r\n"), RoleRequest)

	// Unlike TestParseMGetFragmentsPerKey's hand-rolled BFS, this is the
	// exact call shape engine.Recv uses in production: one Drive call on
	// the inbound message, no caller-side loop re-invoking Drive on the
	// fragments it returns.
	var frags, err = engine.Drive(pool, msg)
	assert.NoError(t, err)
	assert.True(t, msg.Done())
	assert.Equal(t, "k1", string(msg.Key()))

	assert.Len(t, frags, 2, "both remaining keys must come back already driven to completion")
	assert.True(t, frags[0].Done())
	assert.Equal(t, "k2", string(frags[0].Key()))
	assert.True(t, frags[1].Done())
	assert.Equal(t, "k3", string(frags[1].Key()))
	assert.True(t, frags[1].LastFragment())
}

func TestParseResponseBulk(t *testing.T) {
	var pool, msg = newMsg(t, []byte("$5\r\nhello\r\n"), RoleResponse)

	var _, err = engine.Drive(pool, msg)
	assert.NoError(t, err)
	assert.True(t, msg.Done())
	assert.Equal(t, 5, msg.Vlen())
}

func TestParseResponseError(t *testing.T) {
	var pool, msg = newMsg(t, []byte("-ERR bad key\r\n"), RoleResponse)

	var _, err = engine.Drive(pool, msg)
	assert.NoError(t, err)
	assert.True(t, msg.Error())
}
