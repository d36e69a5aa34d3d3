// Package ranker scores chunks against query terms with Okapi BM25.
package ranker

import (
	"cmp"
	"math"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/index"
)

// BM25 holds the term-saturation (K1) and length-normalisation (B)
// parameters. The zero value means the usual 1.2 / 0.75.
type BM25 struct {
	K1 float64
	B  float64
}

func (m BM25) params() (k1, b float64) {
	k1, b = m.K1, m.B
	if k1 <= 0 {
		k1 = 1.2
	}
	if b <= 0 || b > 1 {
		b = 0.75
	}
	return k1, b
}

// Corpus describes the collection the postings were drawn from.
type Corpus struct {
	Docs      int
	AvgLength float64
	Length    func(chunkID string) int
}

type Scored struct {
	ChunkID string
	Score   float64
}

// Rank scores every chunk in postings that keep accepts (keep may be nil)
// and orders them by score, ties by chunk id.
func (m BM25) Rank(postings map[string]index.PostingList, c Corpus, keep func(chunkID string) bool) []Scored {
	k1, b := m.params()
	scores := make(map[string]float64)
	for _, list := range postings {
		idf := idf(c.Docs, len(list))
		for _, p := range list {
			if keep != nil && !keep(p.ChunkID) {
				continue
			}
			scores[p.ChunkID] += idf * saturate(float64(p.Frequency), float64(c.Length(p.ChunkID)), c.AvgLength, k1, b)
		}
	}
	out := make([]Scored, 0, len(scores))
	for id, s := range scores {
		out = append(out, Scored{ChunkID: id, Score: s})
	}
	slices.SortFunc(out, func(x, y Scored) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.ChunkID, y.ChunkID)
	})
	return out
}

// Ceiling is the least upper bound of Rank's score for these postings: every
// term at saturating frequency. Scores divided by it land in [0,1) no matter
// which other chunks matched.
func (m BM25) Ceiling(postings map[string]index.PostingList, docs int) float64 {
	k1, _ := m.params()
	var ceiling float64
	for _, list := range postings {
		if len(list) > 0 {
			ceiling += idf(docs, len(list)) * (k1 + 1)
		}
	}
	return ceiling
}

// idf is the Lucene form. It stays positive even for a term present in
// every chunk, so term frequency still orders a single-chunk scope.
func idf(docs, docFreq int) float64 {
	return math.Log(1 + (float64(docs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
}

func saturate(tf, length, avgLength, k1, b float64) float64 {
	if avgLength == 0 {
		return 0
	}
	return tf * (k1 + 1) / (tf + k1*(1-b+b*length/avgLength))
}
