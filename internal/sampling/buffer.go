package sampling

import "github.com/infraprobe/xnuperf/internal/kdebug"

// buffer accumulates trace records across kernel reads. It grows by
// doubling so a slowly-filling kernel buffer never outruns it.
type buffer struct {
	recs []kdebug.Record
}

func newBuffer(capacity int) *buffer {
	return &buffer{recs: make([]kdebug.Record, 0, capacity)}
}

func (b *buffer) headroom() int { return cap(b.recs) - len(b.recs) }

func (b *buffer) len() int { return len(b.recs) }

// grow doubles the capacity, keeping stored records in place.
func (b *buffer) grow() {
	bigger := make([]kdebug.Record, len(b.recs), 2*cap(b.recs))
	copy(bigger, b.recs)
	b.recs = bigger
}

// writeSlot returns space for the next kernel read. Call keep afterwards
// with how many of the read records survived filtering.
func (b *buffer) writeSlot(n int) []kdebug.Record {
	return b.recs[len(b.recs) : len(b.recs)+n]
}

// keep extends the stored region by n records just written into the slot.
func (b *buffer) keep(n int) {
	b.recs = b.recs[:len(b.recs)+n]
}

// compact moves the records in slot[:n] that match eventID to the front of
// the slot, returning how many were kept. A defensive re-check; the
// kernel-side filter should already exclude everything else.
func compact(slot []kdebug.Record, n int, eventID uint32) int {
	kept := 0
	for i := 0; i < n; i++ {
		if slot[i].EventID() != eventID {
			continue
		}
		slot[kept] = slot[i]
		kept++
	}
	return kept
}
