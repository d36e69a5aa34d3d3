package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
)

func cand(id string, norm float64, prio, idx int) Candidate {
	return Candidate{
		ScoredHit:  indexer.ScoredHit{ChunkID: id, ChunkIndex: idx},
		Normalized: norm,
		Priority:   prio,
	}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ChunkID
	}
	return out
}

func TestMergeOrdersAcrossLists(t *testing.T) {
	pdf := []Candidate{cand("p1", 0.9, 0, 0), cand("p2", 0.4, 0, 1)}
	platform := []Candidate{cand("w1", 1.0, 1, 0), cand("w2", 0.5, 1, 3)}
	got := Merge([][]Candidate{pdf, platform}, 3)
	assert.Equal(t, []string{"w1", "p1", "w2"}, ids(got))
}

func TestMergeTieBreaks(t *testing.T) {
	list := []Candidate{
		cand("z", 0.5, 1, 0),
		cand("b", 0.5, 0, 2),
		cand("a", 0.5, 0, 2),
		cand("c", 0.5, 0, 1),
	}
	got := Merge([][]Candidate{list}, 0)
	// priority, then chunk index, then id
	assert.Equal(t, []string{"c", "a", "b", "z"}, ids(got))
}

func TestMergeDeterministicForAnyInputOrder(t *testing.T) {
	a := []Candidate{cand("x", 0.7, 0, 4), cand("y", 0.7, 0, 4), cand("q", 0.2, 1, 0)}
	b := []Candidate{a[2], a[1], a[0]}
	assert.Equal(t, ids(Merge([][]Candidate{a}, 2)), ids(Merge([][]Candidate{b}, 2)))
}

func TestMergeEmpty(t *testing.T) {
	got := Merge(nil, 5)
	require.NotNil(t, got)
	assert.Empty(t, got)
}
