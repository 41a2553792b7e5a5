package sampling

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/infraprobe/xnuperf/internal/kdebug"
)

func TestBufferGrowthKeepsRecords(t *testing.T) {
	b := newBuffer(4)

	stored := []kdebug.Record{
		rec(1, true, 10, 1),
		rec(2, true, 20, 2),
		rec(3, true, 30, 3),
	}
	slot := b.writeSlot(len(stored))
	copy(slot, stored)
	b.keep(len(stored))

	if b.headroom() >= 4 {
		t.Fatalf("headroom = %d before growth, expected less than a read unit", b.headroom())
	}
	oldCap := cap(b.recs)
	b.grow()
	if cap(b.recs) <= oldCap {
		t.Errorf("capacity did not increase: %d -> %d", oldCap, cap(b.recs))
	}
	if diff := cmp.Diff(stored, b.recs); diff != "" {
		t.Errorf("records lost during growth (-want +got):\n%s", diff)
	}
}

func TestCompactDropsForeignRecords(t *testing.T) {
	pmc := kdebug.EventID(kdebug.DBG_PERF, kdebug.PERF_KPC, kdebug.PERF_KPC_DATA_THREAD)
	other := kdebug.EventID(1, 2, 3)

	slot := []kdebug.Record{
		rec(1, true, 10, 1),
		{DebugID: other, TID: 2},
		rec(3, false, 30, 3),
		{DebugID: other, TID: 4},
	}
	kept := compact(slot, len(slot), pmc)
	if kept != 2 {
		t.Fatalf("kept %d records, want 2", kept)
	}
	if slot[0].TID != 1 || slot[1].TID != 3 {
		t.Errorf("compaction reordered records: tids %d, %d", slot[0].TID, slot[1].TID)
	}
}
