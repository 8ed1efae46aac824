package aiomysql

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// StmtID is the opaque statement handle spec.md §3 describes, backed
// by an arena slot index rather than a raw pointer (one of the two
// contract-equivalent designs spec.md §9's Design Notes allows). The
// low 32 bits are the slot index, the high 32 bits are a generation
// counter that invalidates a StmtID once its slot is reused after
// StmtClose, giving ABA protection without a raw pointer ever
// crossing the API boundary.
type StmtID uint64

func newStmtID(slot, generation uint32) StmtID {
	return StmtID(uint64(generation)<<32 | uint64(slot))
}

func (id StmtID) slot() uint32       { return uint32(id) }
func (id StmtID) generation() uint32 { return uint32(id >> 32) }

// String is a debug-only representation; it hashes the id with
// xxhash purely to give log lines a short, stable-looking token
// instead of printing the raw packed integer, never used for
// identity or lookup.
func (id StmtID) String() string {
	h := xxhash.Sum64(
		[]byte(strconv.FormatUint(uint64(id), 16)),
	)
	return "stmt:" + strconv.FormatUint(h, 36)
}

type stmtSlot struct {
	generation uint32
	inUse      bool
	serverID   uint32 // the protocol-level COM_STMT_PREPARE statement_id
	numParams  int
}

// stmtArena hands out StmtIDs for prepared statements. A freed slot is
// recycled with an incremented generation so a stale StmtID captured
// by a callback before StmtClose completed can never alias a
// different statement.
type stmtArena struct {
	slots []stmtSlot
	free  []uint32
}

func newStmtArena() *stmtArena { return &stmtArena{} }

func (a *stmtArena) alloc(serverID uint32, numParams int) StmtID {
	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		slot = uint32(len(a.slots))
		a.slots = append(a.slots, stmtSlot{})
	}
	a.slots[slot].inUse = true
	a.slots[slot].serverID = serverID
	a.slots[slot].numParams = numParams
	return newStmtID(slot, a.slots[slot].generation)
}

func (a *stmtArena) lookup(id StmtID) (*stmtSlot, bool) {
	slot := id.slot()
	if int(slot) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[slot]
	if !s.inUse || s.generation != id.generation() {
		return nil, false
	}
	return s, true
}

func (a *stmtArena) release(id StmtID) bool {
	s, ok := a.lookup(id)
	if !ok {
		return false
	}
	s.inUse = false
	s.generation++
	a.free = append(a.free, id.slot())
	return true
}
