package queueset

import (
	"fmt"
)

// dispatchTable maps rotation cursor positions to queue indices. It is
// immutable once built; the QueueSet swaps whole tables atomically when
// weights change.
type dispatchTable struct {
	slots []int
}

// buildDispatchTable flattens per-queue weights into a slot sequence. Each
// queue contributes weight slots, in declaration order, so queues [A, B]
// with weights {A:3, B:2} produce [0, 0, 0, 1, 1]. Queues missing from the
// weights map get one slot; with no weights at all the table is one slot
// per queue. Weight entries for unknown queue names are ignored.
func buildDispatchTable(names []string, weights map[string]int) (*dispatchTable, error) {
	slots := make([]int, 0, len(names))
	for i, name := range names {
		weight := 1
		if w, ok := weights[name]; ok {
			if w <= 0 {
				return nil, fmt.Errorf("weight for queue %q must be positive, got %d", name, w)
			}
			weight = w
		}
		for s := 0; s < weight; s++ {
			slots = append(slots, i)
		}
	}
	return &dispatchTable{slots: slots}, nil
}

func (t *dispatchTable) len() int {
	return len(t.slots)
}

// queueIndex resolves the queue index for a cursor slot.
func (t *dispatchTable) queueIndex(slot int) int {
	return t.slots[slot]
}
