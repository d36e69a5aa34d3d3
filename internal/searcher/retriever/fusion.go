package retriever

import (
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/merger"
)

// normalize maps score into [0,1] against ref, the index's ceiling for the
// query or, when it reports none, the best score the kind returned.
func normalize(score, ref float64) float64 {
	if ref <= 0 || score <= 0 {
		return 0
	}
	return min(score/ref, 1)
}

// fuse normalises each kind's hits, keeps one candidate per chunk id and
// returns the best limit of them in final order.
func fuse(shares []share, results []outcome, limit int) []merger.Candidate {
	best := make(map[string]merger.Candidate)
	for i, s := range shares {
		o := results[i]
		ref := o.maxScore
		if ref <= 0 {
			for _, h := range o.hits {
				ref = max(ref, h.Score)
			}
		}
		for _, h := range o.hits {
			c := merger.Candidate{
				ScoredHit:  h,
				Normalized: normalize(h.Score, ref),
				Priority:   s.priority,
			}
			// same chunk, so Better reduces to score then kind priority
			if prev, ok := best[h.ChunkID]; !ok || merger.Better(c, prev) {
				best[h.ChunkID] = c
			}
		}
	}
	list := make([]merger.Candidate, 0, len(best))
	for _, c := range best {
		list = append(list, c)
	}
	return merger.Merge([][]merger.Candidate{list}, limit)
}
