package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMbufPoolReuse(t *testing.T) {
	var pool = newMbufPool(64)
	var m1 = pool.get()
	assert.Equal(t, 1, pool.allocated)

	m1.CopyIn([]byte("hello"))
	assert.Equal(t, 5, m1.Written())

	pool.put(m1)
	var m2 = pool.get()
	assert.Same(t, m1, m2, "put/get should reuse the freed segment")
	assert.Equal(t, 0, m2.Written(), "reused segment must be reset")
	assert.Equal(t, 1, pool.allocated, "reuse must not allocate a new segment")
}

func TestMbufWriteAndRead(t *testing.T) {
	var pool = newMbufPool(16)
	var m = pool.get()

	var n = m.CopyIn([]byte("0123456789abcdef"))
	assert.Equal(t, 16, n)
	assert.True(t, m.IsFull())
	assert.Equal(t, 0, m.Remaining())

	assert.Equal(t, []byte("0123456789abcdef"), m.UnreadBytes())
	m.Advance(0) // no-op; last already at capacity

	m.pos = 10
	assert.Equal(t, 6, m.Unread())
	assert.Equal(t, []byte("abcdef"), m.UnreadBytes())
}

func TestMbufExtraRegion(t *testing.T) {
	var pool = newMbufPool(8)
	var m = pool.get()
	assert.Equal(t, 8+ExtraCap, m.RemainingWithExtra())

	m.CopyIn([]byte("12345678"))
	assert.True(t, m.IsFull())
	assert.Equal(t, ExtraCap, m.RemainingWithExtra(), "extra region stays available past nominal capacity")
}
