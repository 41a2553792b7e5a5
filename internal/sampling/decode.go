package sampling

import "github.com/infraprobe/xnuperf/internal/kdebug"

// ThreadSample holds the two counter snapshots seen for one thread: the
// first complete logical sample and the last one. Threads sampled only once
// never produce a delta and are dropped by the report.
type ThreadSample struct {
	TID       uint64
	StartTime uint64 // ticks
	EndTime   uint64
	Start     []uint64
	End       []uint64
}

// accum is an in-flight logical sample. A PMC sample wider than four
// registers is split across consecutive records for the same thread, so the
// decoder accumulates until counterCount values arrived.
type accum struct {
	tid  uint64
	ts   uint64
	vals []uint64
}

func (a *accum) take(args [4]uint64, want int) {
	for _, v := range args {
		if len(a.vals) == want {
			return
		}
		a.vals = append(a.vals, v)
	}
}

// decodeThreadSamples reassembles logical PMC samples from the flat record
// stream. A start-flagged record with a nonzero tid opens a sample; records
// for the same thread without the start flag continue it. A differing tid
// or a new start truncates whatever is in flight, and truncated samples are
// discarded whole. The first complete sample per thread lands in Start, any
// later one overwrites End, so a thread sampled more than twice keeps its
// first and latest snapshots.
func decodeThreadSamples(recs []kdebug.Record, counterCount int) map[uint64]*ThreadSample {
	threads := make(map[uint64]*ThreadSample)
	if counterCount <= 0 {
		return threads
	}

	var cur *accum
	commit := func() {
		t, ok := threads[cur.tid]
		if !ok {
			t = &ThreadSample{TID: cur.tid}
			threads[cur.tid] = t
		}
		if t.Start == nil {
			t.StartTime = cur.ts
			t.Start = cur.vals
		} else {
			t.EndTime = cur.ts
			t.End = cur.vals
		}
		cur = nil
	}

	for _, r := range recs {
		if r.IsStart() {
			cur = nil // anything in flight is truncated
			if r.TID == 0 {
				continue
			}
			cur = &accum{tid: r.TID, ts: r.Timestamp, vals: make([]uint64, 0, counterCount)}
		} else {
			if cur == nil {
				continue
			}
			if r.TID != cur.tid {
				cur = nil
				continue
			}
		}
		cur.take(r.Args, counterCount)
		if len(cur.vals) == counterCount {
			commit()
		}
	}
	// a sample still in flight at the end of the stream is truncated
	return threads
}
