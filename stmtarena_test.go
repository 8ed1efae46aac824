package aiomysql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStmtArenaAllocLookup(t *testing.T) {
	a := newStmtArena()
	id := a.alloc(7, 2)

	slot, ok := a.lookup(id)
	require.True(t, ok, "lookup failed for freshly allocated id")
	require.Equal(t, uint32(7), slot.serverID)
	require.Equal(t, 2, slot.numParams)
}

func TestStmtArenaReleaseInvalidatesABA(t *testing.T) {
	a := newStmtArena()
	first := a.alloc(1, 0)

	require.True(t, a.release(first), "release of live id should succeed")
	_, ok := a.lookup(first)
	require.False(t, ok, "released id must not resolve")

	second := a.alloc(2, 0)
	require.Equal(t, first.slot(), second.slot(), "expected slot reuse")
	require.NotEqual(t, first.generation(), second.generation(), "reused slot must bump generation")

	_, ok = a.lookup(first)
	require.False(t, ok, "stale id must not alias the reused slot")

	slot, ok := a.lookup(second)
	require.True(t, ok)
	require.Equal(t, uint32(2), slot.serverID)
}

func TestStmtArenaDoubleReleaseFails(t *testing.T) {
	a := newStmtArena()
	id := a.alloc(1, 0)
	require.True(t, a.release(id), "first release should succeed")
	require.False(t, a.release(id), "second release of the same id must fail")
}

func TestStmtArenaManySlotsDistinct(t *testing.T) {
	a := newStmtArena()
	seen := make(map[StmtID]bool)
	for i := 0; i < 10; i++ {
		id := a.alloc(uint32(i), i)
		require.False(t, seen[id], "duplicate id issued: %v", id)
		seen[id] = true
	}
}
