// Package reorder implements the legacy-container reorder buffer (spec
// §4.5): a priority queue, keyed by (timestamp, group number), that merges
// frames from concurrently arriving groups into timestamp order within a
// latency budget.
//
// Grounded on mpisat-qumo's internal/topology/dijkstra.go priority-queue
// shape (container/heap.Interface over a slice of pointer items tracking
// their own heap index); the ordering key and eviction policy are this
// package's own, per spec §4.5. CMAF bypasses this buffer entirely (§4.5,
// §9) since a single CMAF writer is assumed to already deliver ordered
// groups.
package reorder

import (
	"container/heap"
	"time"

	"github.com/moqsub/player/internal/container"
)

// Buffer merges frames from concurrently open groups into timestamp order.
// It is not safe for concurrent use; callers own it from a single
// goroutine, per the cooperative-scheduling model of spec §5.
type Buffer struct {
	latency time.Duration

	pq   itemHeap
	open map[int64]int64 // group -> highest timestamp it has produced so far

	lastEmitted int64
	hasEmitted  bool
}

// New constructs a Buffer with the given latency budget.
func New(latency time.Duration) *Buffer {
	b := &Buffer{
		latency: latency,
		open:    make(map[int64]int64),
	}
	heap.Init(&b.pq)
	return b
}

// OpenGroup registers group as currently producing. From then until
// CloseGroup(group), group participates in the quorum check (§4.5: "all
// currently-open groups"); before it has produced any sample it holds back
// every frame from other groups until their hold expires.
func (b *Buffer) OpenGroup(group int64) {
	if _, ok := b.open[group]; !ok {
		b.open[group] = -1
	}
}

// CloseGroup marks group as no longer producing — it stops counting toward
// quorum, exactly as if it had produced a frame at +infinity.
func (b *Buffer) CloseGroup(group int64) {
	delete(b.open, group)
}

// Push admits a frame arriving now on group. Frames whose timestamp is
// already behind the last emitted timestamp are dropped silently here
// rather than in Ready, since there is no reason to hold something already
// known to be stale.
func (b *Buffer) Push(sample container.Sample, group int64, arrival time.Time) {
	if b.hasEmitted && sample.Timestamp < b.lastEmitted {
		return
	}
	if cur, ok := b.open[group]; !ok || sample.Timestamp > cur {
		b.open[group] = sample.Timestamp
	}
	heap.Push(&b.pq, &item{
		sample:  sample,
		group:   group,
		arrival: arrival,
	})
}

// Ready pops every frame that is eligible for emission as of now, in
// timestamp order. A frame is eligible once it has been held for at least
// the latency budget, or once every other currently-open group has already
// produced a frame timestamped no earlier than it (so no group can still
// deliver something that would reorder ahead of it).
func (b *Buffer) Ready(now time.Time) []container.Sample {
	var out []container.Sample
	for b.pq.Len() > 0 {
		next := b.pq[0]

		if b.hasEmitted && next.sample.Timestamp < b.lastEmitted {
			heap.Pop(&b.pq)
			continue
		}

		expired := now.Sub(next.arrival) >= b.latency
		if !expired && !b.quorumSatisfied(next) {
			break
		}

		heap.Pop(&b.pq)
		out = append(out, next.sample)
		b.lastEmitted = next.sample.Timestamp
		b.hasEmitted = true
	}
	return out
}

func (b *Buffer) quorumSatisfied(it *item) bool {
	for group, produced := range b.open {
		if group == it.group {
			continue
		}
		if produced < it.sample.Timestamp {
			return false
		}
	}
	return true
}

// item is one heap entry, ordered by (timestamp, group).
type item struct {
	sample  container.Sample
	group   int64
	arrival time.Time
	index   int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].sample.Timestamp != h[j].sample.Timestamp {
		return h[i].sample.Timestamp < h[j].sample.Timestamp
	}
	return h[i].group < h[j].group
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
