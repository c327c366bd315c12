package scheduler

import (
	"container/heap"

	"github.com/maheshrc27/gramflow/internal/models"
)

// triggerHeap is a min-heap ordered by fire time.
type triggerHeap []models.ScheduledTrigger

func (h triggerHeap) Len() int           { return len(h) }
func (h triggerHeap) Less(i, j int) bool { return h[i].FireAt.Before(h[j].FireAt) }
func (h triggerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *triggerHeap) Push(x any) {
	*h = append(*h, x.(models.ScheduledTrigger))
}

func (h *triggerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// replace drops any entry with the same trigger id before pushing t.
func (h *triggerHeap) replace(t models.ScheduledTrigger) {
	h.remove(t.ID)
	heap.Push(h, t)
}

func (h *triggerHeap) remove(id string) bool {
	for i, t := range *h {
		if t.ID == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
