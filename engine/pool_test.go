package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMsgPoolSoftAndHardCeiling(t *testing.T) {
	var p = NewMsgPool(64, 2, 3)

	var m1 = p.Acquire(true, FamilyA)
	var m2 = p.Acquire(true, FamilyA)
	assert.NotNil(t, m1)
	assert.NotNil(t, m2)
	assert.Equal(t, 2, p.Live())

	assert.Nil(t, p.Acquire(true, FamilyA), "soft ceiling should refuse ordinary acquisition")

	var forced = p.AcquireForced(true, FamilyB)
	assert.NotNil(t, forced, "forced acquisition bypasses the soft ceiling")
	assert.Equal(t, 3, p.Live())

	assert.Nil(t, p.AcquireForced(true, FamilyB), "hard ceiling refuses even a forced acquisition")
}

func TestMsgPoolReleaseReturnsSegments(t *testing.T) {
	var p = NewMsgPool(16, 10, 10)
	var m = p.Acquire(true, FamilyA)
	var seg = p.NewSegment(m)
	seg.CopyIn([]byte("payload"))

	p.Release(m)
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, 1, len(p.segPool.free), "released segment returned to the segment pool")
	assert.Equal(t, 1, len(p.free), "released shell returned to the free-list")
}

func TestMsgPoolAcquireReusesFreedShell(t *testing.T) {
	var p = NewMsgPool(16, 10, 10)
	var m1 = p.Acquire(true, FamilyA)
	var id1 = m1.ID()
	p.Release(m1)

	var m2 = p.Acquire(true, FamilyB)
	assert.Same(t, m1, m2)
	assert.NotEqual(t, id1, m2.ID(), "ids are assigned fresh on every acquisition")
}
