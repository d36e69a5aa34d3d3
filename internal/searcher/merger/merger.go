// Package merger selects the top hits across per-kind result lists.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
)

// Candidate is a hit after per-kind normalisation. Priority is the
// position of its kind in the allocation; lower wins ties.
type Candidate struct {
	indexer.ScoredHit
	Normalized float64
	Priority   int
}

// Better is the total order of the fused list: normalised score desc, kind
// priority, chunk index asc, chunk id asc.
func Better(a, b Candidate) bool {
	if a.Normalized != b.Normalized {
		return a.Normalized > b.Normalized
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.ChunkIndex != b.ChunkIndex {
		return a.ChunkIndex < b.ChunkIndex
	}
	return a.ChunkID < b.ChunkID
}

// Merge returns the best limit candidates across lists, best first. Lists
// need not be sorted. limit <= 0 keeps everything.
func Merge(lists [][]Candidate, limit int) []Candidate {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	h := &candidateHeap{}
	heap.Init(h)
	for _, list := range lists {
		for _, c := range list {
			heap.Push(h, c)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]Candidate, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Candidate)
	}
	return result
}

// candidateHeap keeps the worst candidate on top so it can be evicted.
type candidateHeap []Candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(Candidate))
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
