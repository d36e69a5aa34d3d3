package retriever

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

// ceilEpsilon absorbs float error so 10*0.7 rounds up to 7, not 8.
const ceilEpsilon = 1e-9

// share is an active allocation entry. Weights are rescaled to sum to 1
// and priority is the position among active entries.
type share struct {
	kind     chunk.Kind
	weight   float64
	priority int
}

func ceilShare(n int, weight float64) int {
	return int(math.Ceil(float64(n)*weight - ceilEpsilon))
}

// activeShares validates alloc and drops zero weights. The returned map is
// a validation field set, empty when alloc is usable.
func activeShares(alloc []config.KindShare) ([]share, map[string]string) {
	fields := make(map[string]string)
	if len(alloc) == 0 {
		fields["allocation"] = "at least one kind is required"
		return nil, fields
	}
	seen := make(map[chunk.Kind]struct{}, len(alloc))
	var sum float64
	out := make([]share, 0, len(alloc))
	for i, s := range alloc {
		key := fmt.Sprintf("allocation[%d]", i)
		kind, ok := chunk.ParseKind(s.Kind)
		switch {
		case !ok:
			fields[key] = fmt.Sprintf("invalid kind %q", s.Kind)
			continue
		case s.Weight < 0 || math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0):
			fields[key] = "weight must be a finite number >= 0"
			continue
		}
		if _, dup := seen[kind]; dup {
			fields[key] = fmt.Sprintf("duplicate kind %q", kind)
			continue
		}
		seen[kind] = struct{}{}
		if s.Weight == 0 {
			continue
		}
		sum += s.Weight
		out = append(out, share{kind: kind, weight: s.Weight})
	}
	if len(fields) > 0 {
		return nil, fields
	}
	if sum == 0 {
		fields["allocation"] = "weights must not all be zero"
		return nil, fields
	}
	for i := range out {
		out[i].weight /= sum
		out[i].priority = i
	}
	return out, nil
}

// subLimits rounds every share of limit up; any shortfall left by rounding
// goes to the primary kind, so the sum is never below limit.
func subLimits(limit int, shares []share) []int {
	subs := make([]int, len(shares))
	total := 0
	for i, s := range shares {
		subs[i] = ceilShare(limit, s.weight)
		total += subs[i]
	}
	if total < limit && len(subs) > 0 {
		subs[0] += limit - total
	}
	return subs
}

// compensation spreads the first pass shortfall over the kinds that filled
// their sub-limit, by weight. A kind is short when it failed or returned
// fewer hits than asked for. Kinds with a zero sub-limit take no part.
func compensation(shares []share, subs, got []int, failed []bool) []int {
	extra := make([]int, len(shares))
	shortfall := 0
	var fillWeight float64
	for i := range shares {
		switch {
		case subs[i] == 0:
		case failed[i]:
			shortfall += subs[i]
		case got[i] < subs[i]:
			shortfall += subs[i] - got[i]
		default:
			fillWeight += shares[i].weight
		}
	}
	if shortfall == 0 || fillWeight == 0 {
		return extra
	}
	for i := range shares {
		if subs[i] == 0 || failed[i] || got[i] < subs[i] {
			continue
		}
		extra[i] = ceilShare(shortfall, shares[i].weight/fillWeight)
	}
	return extra
}
