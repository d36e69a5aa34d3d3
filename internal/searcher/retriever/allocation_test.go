package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

var defaultAlloc = []config.KindShare{{Kind: "pdf", Weight: 0.7}, {Kind: "platform", Weight: 0.3}}

func mustShares(t *testing.T, alloc []config.KindShare) []share {
	t.Helper()
	shares, fields := activeShares(alloc)
	require.Empty(t, fields)
	return shares
}

func TestSubLimitsRoundUp(t *testing.T) {
	shares := mustShares(t, defaultAlloc)
	assert.Equal(t, []int{6, 3}, subLimits(8, shares))
	assert.Equal(t, []int{7, 3}, subLimits(10, shares))
	assert.Equal(t, []int{1, 1}, subLimits(1, shares))

	for limit := 1; limit <= 50; limit++ {
		subs := subLimits(limit, shares)
		assert.GreaterOrEqual(t, subs[0]+subs[1], limit, "limit %d", limit)
	}
}

func TestActiveSharesRescalesAndDropsZeroWeights(t *testing.T) {
	shares := mustShares(t, []config.KindShare{
		{Kind: "PDF", Weight: 7},
		{Kind: "slides", Weight: 0},
		{Kind: "platform", Weight: 3},
	})
	require.Len(t, shares, 2)
	assert.Equal(t, chunk.KindPDF, shares[0].kind)
	assert.InDelta(t, 0.7, shares[0].weight, 1e-12)
	assert.Equal(t, chunk.KindPlatform, shares[1].kind)
	assert.Equal(t, 1, shares[1].priority)
	assert.Equal(t, []int{6, 3}, subLimits(8, shares))
}

func TestActiveSharesValidation(t *testing.T) {
	_, fields := activeShares(nil)
	assert.Contains(t, fields, "allocation")

	_, fields = activeShares([]config.KindShare{{Kind: "bad kind", Weight: 1}})
	assert.Contains(t, fields, "allocation[0]")

	_, fields = activeShares([]config.KindShare{{Kind: "pdf", Weight: 1}, {Kind: "platform", Weight: -1}})
	assert.Contains(t, fields, "allocation[1]")

	_, fields = activeShares([]config.KindShare{{Kind: "pdf", Weight: 1}, {Kind: "pdf", Weight: 1}})
	assert.Contains(t, fields, "allocation[1]")

	_, fields = activeShares([]config.KindShare{{Kind: "pdf", Weight: 0}})
	assert.Contains(t, fields, "allocation")
}

func TestCompensation(t *testing.T) {
	shares := mustShares(t, defaultAlloc)
	subs := []int{6, 3}

	// platform short by two
	assert.Equal(t, []int{2, 0}, compensation(shares, subs, []int{6, 1}, []bool{false, false}))
	// platform failed: its whole sub-limit moves
	assert.Equal(t, []int{3, 0}, compensation(shares, subs, []int{6, 0}, []bool{false, true}))
	// nobody filled, nothing to redistribute
	assert.Equal(t, []int{0, 0}, compensation(shares, subs, []int{2, 1}, []bool{false, false}))
	// everybody filled
	assert.Equal(t, []int{0, 0}, compensation(shares, subs, []int{6, 3}, []bool{false, false}))
}

func TestCompensationSplitsByWeight(t *testing.T) {
	shares := mustShares(t, []config.KindShare{
		{Kind: "pdf", Weight: 0.5},
		{Kind: "platform", Weight: 0.3},
		{Kind: "slides", Weight: 0.2},
	})
	subs := []int{5, 3, 2}
	extra := compensation(shares, subs, []int{5, 3, 0}, []bool{false, false, false})
	assert.Equal(t, []int{2, 1, 0}, extra)
}
