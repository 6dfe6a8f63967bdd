package syncer

import (
	"container/heap"
	"time"

	"github.com/nvrstore/recstore/recfmt"
)

// plannedFlush is spec.md's PlannedFlush: a deferred metadata flush,
// keyed by the monotonic instant it becomes due. senders are test-only
// channels (spec.md §5 "Cancellation / shutdown") dropped (closed) the
// moment this entry fires or is discarded, unblocking a caller waiting
// on the round-trip Flush test hook.
type plannedFlush struct {
	when     time.Time
	streamID uint32
	// recording names the recording this flush was scheduled for.
	recording recfmt.CompositeId
	// scheduledNextID is the stream's next recording id when this entry
	// was scheduled; used only to detect staleness (a later AddRecording
	// on the same stream implies this recording's row was already
	// committed by the flush that followed it — see syncer.flush).
	scheduledNextID uint32
	reason          string
	senders         []chan<- struct{}

	index int // heap.Interface bookkeeping
}

func (pf *plannedFlush) release() {
	for _, s := range pf.senders {
		close(s)
	}

	pf.senders = nil
}

// plannedFlushHeap is a min-heap on `when`, implementing
// container/heap.Interface. It backs the Syncer's single planned-flush
// priority queue (spec.md §9 "Planned-flush heap").
type plannedFlushHeap []*plannedFlush

var _ heap.Interface = (*plannedFlushHeap)(nil)

func (h plannedFlushHeap) Len() int { return len(h) }

func (h plannedFlushHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h plannedFlushHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *plannedFlushHeap) Push(x any) {
	pf := x.(*plannedFlush) //nolint:forcetypeassert // container/heap contract
	pf.index = len(*h)
	*h = append(*h, pf)
}

func (h *plannedFlushHeap) Pop() any {
	old := *h
	n := len(old)
	pf := old[n-1]
	old[n-1] = nil
	pf.index = -1
	*h = old[:n-1]

	return pf
}
